package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/ldawatch/internal/api"
	"github.com/kiranshivaraju/ldawatch/internal/api/handler"
	mw "github.com/kiranshivaraju/ldawatch/internal/api/middleware"
	"github.com/kiranshivaraju/ldawatch/internal/api/response"
	"github.com/kiranshivaraju/ldawatch/internal/cache"
	"github.com/kiranshivaraju/ldawatch/internal/config"
	"github.com/kiranshivaraju/ldawatch/internal/launcher"
	"github.com/kiranshivaraju/ldawatch/internal/monitor"
	"github.com/kiranshivaraju/ldawatch/internal/store"
	"github.com/kiranshivaraju/ldawatch/internal/trainer"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newWatchCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Start the job and follow its progress until it finishes",
		Long: `Send the start request for the configured job. When the service
acknowledges with "started", poll its progress every interval until the job
reaches a terminal state or the process is interrupted.

While watching, a local status API is served on LDAWATCH_PORT (0 disables it).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, cfg)
		},
	}
}

func runWatch(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"job_id", cfg.Service.JobID,
		"base_url", cfg.Service.BaseURL,
		"interval_ms", cfg.Poll.Interval.Milliseconds(),
		"env", cfg.Server.Env,
	)

	client := trainer.NewHTTPClient(cfg.Service.BaseURL, cfg.Service.Timeout)
	lockTTL := cache.LaunchTTL(cfg.Poll.Interval, cfg.Service.Timeout)

	sinks := []monitor.Sink{monitor.LogSink{}}
	var heartbeats []monitor.Heartbeat
	launchOpts := launcher.Options{}
	checks := map[string]pinger{}
	deps := api.Dependencies{}
	var snapshots handler.SnapshotReader
	var counter mw.Counter

	// 1. Optional Redis: snapshots, launch lock, rate limiting
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer rc.Close()

		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")

		redisCache = rc
		sinks = append(sinks, cache.NewSnapshotSink(rc, cfg.Redis.SnapshotTTL))
		heartbeats = append(heartbeats, cache.NewLaunchLease(rc, lockTTL))
		launchOpts.Locker = rc
		launchOpts.LockTTL = lockTTL
		checks["cache"] = rc
		snapshots = rc
		counter = rc
	}

	// 2. Optional Postgres: run history
	var history *store.HistorySink
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")

		pgStore := store.NewPostgresStore(pool)
		history = store.NewHistorySink(pgStore)
		sinks = append(sinks, history)
		launchOpts.Recorder = history
		checks["database"] = pgStore
		deps.LatestRunHandler = handler.NewLatestRunHandler(pgStore)
		deps.RunHandler = handler.NewRunHandler(pgStore)
	}

	// 3. Poller and launcher
	poller := monitor.NewPoller(client, cfg.Service.JobID, monitor.Options{
		Interval:       cfg.Poll.Interval,
		StopOnTerminal: cfg.Poll.StopOnTerminal,
		Sinks:          sinks,
		Heartbeats:     heartbeats,
	})
	l := launcher.New(client, poller, cfg.Service.JobID, launchOpts)

	// 4. Optional status API
	var srv *http.Server
	errCh := make(chan error, 1)
	if cfg.Server.Port != 0 {
		deps.RateLimit = mw.NewRateLimit(counter, 0)
		deps.HealthHandler = healthHandler(checks)
		deps.ProgressHandler = handler.NewProgressHandler(poller, snapshots)
		deps.StopHandler = handler.NewStopHandler(poller)

		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		srv = &http.Server{
			Addr:         addr,
			Handler:      api.NewRouter(deps),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			slog.Info("status api listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()
	}

	// 5. Start the job
	res := l.StartTraining(ctx)

	var runErr error
	switch {
	case res.Monitoring:
		select {
		case <-poller.Done():
		case <-ctx.Done():
			slog.Info("shutdown signal received, stopping monitoring")
		case err := <-errCh:
			if err != nil {
				runErr = fmt.Errorf("server error: %w", err)
			}
		}
		poller.Stop()
		poller.Wait()
	case res.Err != nil:
		runErr = fmt.Errorf("start training: %w", res.Err)
	default:
		slog.Info("training not started, nothing to monitor")
	}

	// Cleanup outlives the signal context.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if history != nil {
		history.Close(cleanupCtx)
	}
	if redisCache != nil && res.Monitoring {
		released, err := redisCache.ReleaseLaunch(cleanupCtx, cfg.Service.JobID)
		if err != nil {
			slog.Warn("release launch lock failed", "error", err)
		} else if !released {
			slog.Warn("launch lock was no longer held by this process")
		}
	}
	if last, ok := poller.Last(); ok && last.Progress != nil {
		slog.Info("monitoring finished",
			"percent", last.Progress.Percent,
			"status", last.Progress.Outcome(),
		)
	}

	if srv != nil {
		if err := srv.Shutdown(cleanupCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("server shutdown: %w", err)
		}
		slog.Info("status api stopped")
	}

	return runErr
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks connectivity of every configured backend.
func healthHandler(backends map[string]pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(backends))
		degraded := false
		for name, b := range backends {
			checks[name] = "ok"
			if err := b.Ping(r.Context()); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
