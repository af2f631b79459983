package httptransport

import (
	"log/slog"

	"github.com/couchgate/couchgate/internal/transport/http/handler"
	"github.com/couchgate/couchgate/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(
	logger *slog.Logger,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	eventsHandler *handler.EventsHandler,
	sessions middleware.SessionValidator,
	adminJWTKey []byte,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	// Public login surface
	api := r.Group("/api")
	api.POST("/login", authHandler.RequestLogin)
	api.POST("/login-verify", authHandler.VerifyLogin)
	api.POST("/session", authHandler.PasswordLogin)
	api.GET("/login", authHandler.CurrentUser)
	api.DELETE("/logout", authHandler.Logout)

	// Live updates, session-cookie gated
	r.GET("/live-events", middleware.Session(sessions), eventsHandler.Stream)

	// Admin surface, bearer-token gated
	admin := r.Group("/admin", middleware.AdminAuth(adminJWTKey))
	admin.GET("/online", userHandler.Online)
	admin.POST("/users/_bulk", userHandler.BulkUsers)
	admin.GET("/users/:name", userHandler.GetUser)
	admin.PUT("/users/:name", userHandler.PutUser)
	admin.DELETE("/users/:name", userHandler.DeleteUser)
	admin.PUT("/users/:name/attachments/:attname", userHandler.PutAttachment)
	admin.GET("/users/:name/attachments/:attname", userHandler.GetAttachment)
	admin.DELETE("/users/:name/attachments/:attname", userHandler.DeleteAttachment)

	return r
}
