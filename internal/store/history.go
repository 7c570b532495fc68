package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ldawatch/internal/monitor"
	"github.com/kiranshivaraju/ldawatch/pkg/models"
)

// HistorySink records runs and their progress snapshots. It is the launcher's
// run recorder and a monitor sink at the same time, so snapshots attach to the
// run created at hand-off.
type HistorySink struct {
	store Store

	mu      sync.Mutex
	runID   uuid.UUID
	last    *models.Progress
	settled bool
}

func NewHistorySink(s Store) *HistorySink {
	return &HistorySink{store: s}
}

// CreateRun persists run and makes it the current run for snapshots.
func (h *HistorySink) CreateRun(ctx context.Context, run *models.Run) error {
	if err := h.store.CreateRun(ctx, run); err != nil {
		return err
	}
	h.mu.Lock()
	h.runID = run.ID
	h.last = nil
	h.settled = false
	h.mu.Unlock()
	return nil
}

// RunID returns the current run, or uuid.Nil before CreateRun succeeded.
func (h *HistorySink) RunID() uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runID
}

func (h *HistorySink) Consume(ctx context.Context, u monitor.Update) {
	if u.Progress == nil {
		return
	}

	h.mu.Lock()
	runID := h.runID
	settled := h.settled
	h.last = u.Progress
	h.mu.Unlock()
	if runID == uuid.Nil || settled {
		return
	}

	err := h.store.AppendSnapshot(ctx, &models.Snapshot{
		RunID:       runID,
		Percent:     u.Progress.Percent,
		Description: u.Progress.Description,
		ReportedAt:  u.Progress.Timestamp,
	})
	if err != nil {
		slog.Warn("append progress snapshot failed", "run_id", runID, "error", err)
	}

	if u.Progress.Terminal() {
		h.finish(ctx, runID, u.Progress.Outcome(), u.Progress)
	}
}

// Close marks the current run stopped if it has not already reached a
// terminal state. It is called once polling ends.
func (h *HistorySink) Close(ctx context.Context) {
	h.mu.Lock()
	runID := h.runID
	settled := h.settled
	last := h.last
	h.mu.Unlock()
	if runID == uuid.Nil || settled {
		return
	}
	h.finish(ctx, runID, models.RunStatusStopped, last)
}

func (h *HistorySink) finish(ctx context.Context, runID uuid.UUID, status string, last *models.Progress) {
	var opts []RunFinishOption
	if last != nil {
		opts = append(opts, WithFinalPercent(last.Percent))
	}
	err := h.store.FinishRun(ctx, runID, status, opts...)
	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.Warn("finish run failed", "run_id", runID, "status", status, "error", err)
		return
	}

	h.mu.Lock()
	h.settled = true
	h.mu.Unlock()
	slog.Info("run finished", "run_id", runID, "status", status)
}

var _ monitor.Sink = (*HistorySink)(nil)
