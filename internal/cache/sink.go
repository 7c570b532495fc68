package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/ldawatch/internal/monitor"
)

// SnapshotSink stores the latest successful progress for a job.
type SnapshotSink struct {
	cache Cache
	ttl   time.Duration
}

func NewSnapshotSink(c Cache, ttl time.Duration) *SnapshotSink {
	return &SnapshotSink{cache: c, ttl: ttl}
}

func (s *SnapshotSink) Consume(ctx context.Context, u monitor.Update) {
	if u.Progress == nil {
		return
	}
	if err := s.cache.SetProgress(ctx, u.JobID, u.Progress, s.ttl); err != nil {
		slog.Warn("store progress snapshot failed", "job_id", u.JobID, "error", err)
	}
}

// LaunchTTL is the launch lock lifetime for a poller. It covers two ticks and
// at least one full query timeout plus a tick, so a lock refreshed on every
// tick survives the slowest permitted query.
func LaunchTTL(interval, timeout time.Duration) time.Duration {
	return max(2*interval, timeout+interval)
}

// LaunchLease keeps a held launch lock alive from the poller's ticker.
type LaunchLease struct {
	cache Cache
	ttl   time.Duration
}

func NewLaunchLease(c Cache, ttl time.Duration) *LaunchLease {
	return &LaunchLease{cache: c, ttl: ttl}
}

// Beat extends the lock. It returns monitor.ErrLeaseLost when the lock no
// longer belongs to this process; Redis errors are returned as-is and do not
// stop polling.
func (l *LaunchLease) Beat(ctx context.Context, jobID string) error {
	ok, err := l.cache.RefreshLaunch(ctx, jobID, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return monitor.ErrLeaseLost
	}
	return nil
}

var (
	_ monitor.Sink      = (*SnapshotSink)(nil)
	_ monitor.Heartbeat = (*LaunchLease)(nil)
)
