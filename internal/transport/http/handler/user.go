package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/couchgate/couchgate/internal/domain"
	"github.com/couchgate/couchgate/internal/hub"
	"github.com/couchgate/couchgate/internal/repository"
	"github.com/gin-gonic/gin"
)

// UserHandler serves the admin surface: raw user document access, bulk
// import, attachments, and presence. Callers are already past AdminAuth.
type UserHandler struct {
	users  repository.UserRepository
	hub    *hub.Hub
	logger *slog.Logger
}

func NewUserHandler(users repository.UserRepository, h *hub.Hub, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		hub:    h,
		logger: logger.With("component", "user_handler"),
	}
}

// GET /admin/users/:name
// Returns the full user document, secrets included. This is the admin view;
// the public surface only ever sees Sanitized().
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.users.FindByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errUserNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, user)
}

// PUT /admin/users/:name
// Writes the document as given. The path wins over any name in the body so
// a stale body cannot rename a user.
func (h *UserHandler) PutUser(c *gin.Context) {
	var user domain.User
	if err := c.ShouldBindJSON(&user); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody})
		return
	}
	user.ID = domain.DocID(c.Param("name"))
	user.Name = c.Param("name")
	if user.Roles == nil {
		// _users rejects "roles": null.
		user.Roles = []string{}
	}

	res, err := h.users.Save(c.Request.Context(), &user)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "put user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, res)
}

// DELETE /admin/users/:name?rev=...
// Tombstones the document. Without an explicit rev the current one is
// looked up first.
func (h *UserHandler) DeleteUser(c *gin.Context) {
	name := c.Param("name")
	rev := c.Query("rev")
	if rev == "" {
		user, err := h.users.FindByName(c.Request.Context(), name)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": errUserNotFound})
				return
			}
			h.logger.ErrorContext(c.Request.Context(), "delete user lookup", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
			return
		}
		rev = user.Rev
	}

	if err := h.users.Delete(c.Request.Context(), name, rev); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "delete user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type bulkUsersRequest struct {
	Users []*domain.User `json:"users" binding:"required"`
}

// POST /admin/users/_bulk
// Batch import. Per-document results come back in order; a conflict on one
// document does not fail the batch.
func (h *UserHandler) BulkUsers(c *gin.Context) {
	var req bulkUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody})
		return
	}
	for _, u := range req.Users {
		if u.ID == "" && u.Name != "" {
			u.ID = domain.DocID(u.Name)
		}
	}

	results, err := h.users.BulkSave(c.Request.Context(), req.Users)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "bulk users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// PUT /admin/users/:name/attachments/:attname?rev=...
func (h *UserHandler) PutAttachment(c *gin.Context) {
	rev := c.Query("rev")
	if rev == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rev query parameter is required"})
		return
	}
	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res, err := h.users.PutAttachment(c.Request.Context(), c.Param("name"), c.Param("attname"), rev, contentType, c.Request.Body)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "put attachment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /admin/users/:name/attachments/:attname
func (h *UserHandler) GetAttachment(c *gin.Context) {
	body, contentType, err := h.users.GetAttachment(c.Request.Context(), c.Param("name"), c.Param("attname"))
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "get attachment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	if body == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Attachment not found"})
		return
	}
	defer body.Close()

	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.logger.Warn("stream attachment", "error", err)
	}
}

// DELETE /admin/users/:name/attachments/:attname?rev=...
func (h *UserHandler) DeleteAttachment(c *gin.Context) {
	rev := c.Query("rev")
	if rev == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rev query parameter is required"})
		return
	}

	res, err := h.users.DeleteAttachment(c.Request.Context(), c.Param("name"), c.Param("attname"), rev)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "delete attachment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /admin/online
// Presence snapshot from the SSE hub.
func (h *UserHandler) Online(c *gin.Context) {
	stats := h.hub.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"usernames":   h.hub.OnlineUsernames(),
		"users":       stats.Users,
		"connections": stats.Connections,
	})
}
