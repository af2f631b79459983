// Package maintenance runs the gateway's periodic housekeeping: nightly
// database compaction and an hourly presence snapshot in the logs.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchgate/couchgate/internal/couch"
	"github.com/couchgate/couchgate/internal/hub"
	"github.com/robfig/cron/v3"
)

const (
	compactSpec = "0 3 * * *"
	statsSpec   = "0 * * * *"
)

type Runner struct {
	client *couch.Client
	hub    *hub.Hub
	dbs    []string
	logger *slog.Logger
	cron   *cron.Cron
}

func NewRunner(client *couch.Client, h *hub.Hub, dbs []string, logger *slog.Logger) *Runner {
	return &Runner{
		client: client,
		hub:    h,
		dbs:    dbs,
		logger: logger.With("component", "maintenance"),
		cron:   cron.New(),
	}
}

// Start registers the jobs and starts the cron scheduler. The scheduler is
// stopped when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(compactSpec, func() { r.compactAll(ctx) }); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(statsSpec, r.logStats); err != nil {
		return err
	}

	r.cron.Start()
	r.logger.Info("maintenance started", "databases", r.dbs)

	go func() {
		<-ctx.Done()
		stopCtx := r.cron.Stop()
		<-stopCtx.Done()
		r.logger.Info("maintenance shut down")
	}()
	return nil
}

func (r *Runner) compactAll(ctx context.Context) {
	for _, db := range r.dbs {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		err := r.client.Compact(runCtx, db)
		cancel()
		if err != nil {
			r.logger.Error("compaction trigger failed", "db", db, "error", err)
			continue
		}
		r.logger.Info("compaction triggered", "db", db)
	}
}

func (r *Runner) logStats() {
	stats := r.hub.GetStats()
	r.logger.Info("live connections", "users", stats.Users, "connections", stats.Connections)
}
