// Package launcher starts a training job and hands off to progress monitoring.
package launcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ldawatch/pkg/models"
)

// ErrLaunchLocked is reported when another process already monitors the job.
var ErrLaunchLocked = errors.New("job is already being monitored")

// Starter is the slice of trainer.Client the launcher needs.
type Starter interface {
	StartTraining(ctx context.Context, jobID string) (*models.StartResponse, error)
}

// Monitor is the poll handle the launcher hands off to.
type Monitor interface {
	Start(ctx context.Context) bool
}

// Locker guards against two processes monitoring the same job.
// A nil Locker disables the guard.
type Locker interface {
	AcquireLaunch(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
}

// RunRecorder persists acknowledged starts. A nil RunRecorder disables history.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.Run) error
}

// Result reports what StartTraining did. Err is set for transport and parse
// failures; it is informational and never panics or retries.
type Result struct {
	RunID      uuid.UUID
	Response   *models.StartResponse
	Monitoring bool
	Err        error
}

// Options configures a Launcher.
type Options struct {
	Locker   Locker
	LockTTL  time.Duration
	Recorder RunRecorder
	Logger   *slog.Logger
}

// Launcher sends the start request for one job and, on a "started"
// acknowledgment, starts its monitor exactly once over its lifetime.
type Launcher struct {
	jobID    string
	starter  Starter
	monitor  Monitor
	locker   Locker
	lockTTL  time.Duration
	recorder RunRecorder
	logger   *slog.Logger

	mu        sync.Mutex
	handedOff bool
}

// New creates a Launcher for jobID.
func New(starter Starter, monitor Monitor, jobID string, opts Options) *Launcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		jobID:    jobID,
		starter:  starter,
		monitor:  monitor,
		locker:   opts.Locker,
		lockTTL:  opts.LockTTL,
		recorder: opts.Recorder,
		logger:   logger.With("job_id", jobID),
	}
}

// StartTraining issues one start request and interprets the acknowledgment.
// Failures are logged and returned in the Result; they never escape as panics.
// ctx also bounds the lifetime of the monitor started from here.
func (l *Launcher) StartTraining(ctx context.Context) Result {
	start := time.Now()
	resp, err := l.starter.StartTraining(ctx, l.jobID)
	if err != nil {
		l.logger.Error("training start request failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return Result{Err: err}
	}

	l.logger.Info("training request sent",
		"status", resp.Status,
		"http_status", resp.HTTPStatus,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	res := Result{Response: resp}
	if !resp.Started() {
		if resp.Message != "" {
			l.logger.Info("training not started", "status", resp.Status, "message", resp.Message)
		}
		return res
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handedOff {
		l.logger.Warn("training acknowledged again, monitor already started")
		return res
	}

	if l.locker != nil {
		ok, err := l.locker.AcquireLaunch(ctx, l.jobID, l.lockTTL)
		switch {
		case err != nil:
			// Lock backend trouble should not keep the job unmonitored.
			l.logger.Warn("launch lock unavailable, continuing", "error", err)
		case !ok:
			l.logger.Warn("job already monitored by another process")
			res.Err = ErrLaunchLocked
			return res
		}
	}

	res.RunID = uuid.New()
	if l.recorder != nil {
		now := time.Now().UTC()
		run := &models.Run{
			ID:        res.RunID,
			JobID:     l.jobID,
			Status:    models.RunStatusRunning,
			StartedAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := l.recorder.CreateRun(ctx, run); err != nil {
			l.logger.Error("recording run failed", "run_id", res.RunID, "error", err)
		}
	}

	l.handedOff = true
	res.Monitoring = l.monitor.Start(ctx)
	return res
}
