package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchgate/couchgate/config"
	"github.com/couchgate/couchgate/internal/couch"
	"github.com/couchgate/couchgate/internal/email"
	"github.com/couchgate/couchgate/internal/health"
	"github.com/couchgate/couchgate/internal/hub"
	"github.com/couchgate/couchgate/internal/infrastructure/couchdb"
	ctxlog "github.com/couchgate/couchgate/internal/log"
	"github.com/couchgate/couchgate/internal/maintenance"
	"github.com/couchgate/couchgate/internal/metrics"
	httptransport "github.com/couchgate/couchgate/internal/transport/http"
	"github.com/couchgate/couchgate/internal/transport/http/handler"
	"github.com/couchgate/couchgate/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	client := couch.NewClient(cfg.CouchURL, cfg.CouchAdminToken, logger)

	if err := provision(ctx, client, cfg.TokensDB); err != nil {
		stop()
		log.Fatalf("provision: %v", err)
	}

	userRepo := couchdb.NewUserRepository(client, cfg.UsersDB)
	tokenRepo := couchdb.NewTokenRepository(client, cfg.TokensDB)
	sender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)

	authUsecase := usecase.NewAuthUsecase(userRepo, tokenRepo, client, sender, cfg.CookieSecret, cfg.UserPrefix, logger)

	liveHub := hub.New(logger)
	follower := couch.NewFollower(client, cfg.UsersDB, hub.UserChangeHandler(liveHub), logger)
	if !cfg.DisableChangeFeed {
		go follower.Run(ctx)
	} else {
		logger.Info("change feed disabled")
	}

	authHandler := handler.NewAuthHandler(authUsecase, cfg.IsProduction(), logger)
	userHandler := handler.NewUserHandler(userRepo, liveHub, logger)
	eventsHandler := handler.NewEventsHandler(liveHub, logger)

	metrics.Register()
	checker := health.NewChecker(client, logger, prometheus.DefaultRegisterer)

	housekeeping := maintenance.NewRunner(client, liveHub, []string{cfg.UsersDB, cfg.TokensDB}, logger)
	if err := housekeeping.Start(ctx); err != nil {
		stop()
		log.Fatalf("maintenance: %v", err)
	}

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, authHandler, userHandler, eventsHandler, client, []byte(cfg.AdminJWTSecret)),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

// provision makes sure the token database exists and is admin-only. The
// users database is the store's own; it is never created here.
func provision(ctx context.Context, client *couch.Client, tokensDB string) error {
	provCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := client.EnsureDatabase(provCtx, tokensDB); err != nil {
		return err
	}
	security := map[string]any{
		"admins":  map[string]any{"names": []string{}, "roles": []string{"_admin"}},
		"members": map[string]any{"names": []string{}, "roles": []string{"_admin"}},
	}
	return client.PutSecurity(provCtx, tokensDB, security)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
