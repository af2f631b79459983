package middleware

import (
	"context"
	"net/http"

	"github.com/couchgate/couchgate/internal/couch"
	"github.com/couchgate/couchgate/internal/session"
	"github.com/gin-gonic/gin"
)

const (
	usernameKey = "username"
	rolesKey    = "roles"
)

// SessionValidator resolves an AuthSession cookie into an identity.
type SessionValidator interface {
	GetSession(ctx context.Context, authSessionCookie, basicToken string) (*couch.UserCtx, error)
}

// Session rejects requests without a valid AuthSession cookie. The cookie is
// resolved against the store so expired or revoked sessions fail even when
// the signature still checks out locally.
func Session(store SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(session.CookieName)
		if err != nil || cookie == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		userCtx, err := store.GetSession(c.Request.Context(), cookie, "")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if userCtx == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		c.Set(usernameKey, userCtx.Name)
		c.Set(rolesKey, userCtx.Roles)
		c.Next()
	}
}

// Username returns the session username set by Session, or "" when the
// request is anonymous.
func Username(c *gin.Context) string {
	return c.GetString(usernameKey)
}

// Roles returns the session roles set by Session.
func Roles(c *gin.Context) []string {
	if v, ok := c.Get(rolesKey); ok {
		if roles, ok := v.([]string); ok {
			return roles
		}
	}
	return nil
}
