package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/couchgate/couchgate/internal/domain"
	"github.com/couchgate/couchgate/internal/session"
	"github.com/couchgate/couchgate/internal/usecase"
	"github.com/gin-gonic/gin"
)

// authUsecaser is the subset of AuthUsecase the handler needs.
// Defined here (point of use) so tests can inject a fake.
type authUsecaser interface {
	RequestLogin(ctx context.Context, email, funnel, affiliateCode string) (*domain.LoginToken, error)
	VerifyLogin(ctx context.Context, email, code string) (*usecase.VerifyResult, error)
	AuthenticateWithPassword(ctx context.Context, username, password string) (bool, string, error)
	CurrentUser(ctx context.Context, cookieValue string) (*domain.User, error)
}

type AuthHandler struct {
	auth   authUsecaser
	secure bool
	logger *slog.Logger
}

func NewAuthHandler(auth authUsecaser, secure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		secure: secure,
		logger: logger.With("component", "auth_handler"),
	}
}

type loginRequest struct {
	Email         string `json:"email" binding:"required"`
	Funnel        string `json:"funnel"`
	AffiliateCode string `json:"affiliateCode"`
}

// POST /api/login
// Issues a one-time login code. The response does not reveal whether a user
// already exists for the email.
func (h *AuthHandler) RequestLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody})
		return
	}

	_, err := h.auth.RequestLogin(c.Request.Context(), req.Email, req.Funnel, req.AffiliateCode)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "request login", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type verifyRequest struct {
	Email string `json:"email" binding:"required"`
	Token string `json:"token" binding:"required"`
}

// POST /api/login-verify
// Redeems a login code and sets the AuthSession cookie. Every token failure
// collapses into a generic 404 so the endpoint is useless as an oracle.
func (h *AuthHandler) VerifyLogin(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody})
		return
	}

	res, err := h.auth.VerifyLogin(c.Request.Context(), req.Email, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrInvalidLogin):
			c.JSON(http.StatusNotFound, gin.H{"error": errInvalidLogin})
		default:
			h.logger.ErrorContext(c.Request.Context(), "verify login", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.Header("Set-Cookie", session.SetCookie(res.CookieValue, h.secure))
	c.JSON(http.StatusOK, gin.H{"resp": res.Token, "doc": res.User})
}

type passwordRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /api/session
// Password authentication, delegated to the store. The store's own
// Set-Cookie header is forwarded unchanged.
func (h *AuthHandler) PasswordLogin(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody})
		return
	}

	ok, setCookie, err := h.auth.AuthenticateWithPassword(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "password login", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}

	if setCookie != "" {
		c.Header("Set-Cookie", setCookie)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GET /api/login
// Returns the sanitized user document for the presented session cookie.
func (h *AuthHandler) CurrentUser(c *gin.Context) {
	cookie, err := c.Cookie(session.CookieName)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}

	user, err := h.auth.CurrentUser(c.Request.Context(), cookie)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "current user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, user)
}

// DELETE /api/logout
// Clears the session cookie. Always succeeds: there is no server-side
// session to revoke, so clearing the client cookie is the whole operation.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.Header("Set-Cookie", session.ExpiredCookie(h.secure))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
