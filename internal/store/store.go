package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ldawatch/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	LatestRun(ctx context.Context, jobID string) (*models.Run, error)
	FinishRun(ctx context.Context, id uuid.UUID, status string, opts ...RunFinishOption) error

	AppendSnapshot(ctx context.Context, snap *models.Snapshot) error
	ListSnapshots(ctx context.Context, runID uuid.UUID, limit int) ([]*models.Snapshot, error)
}

type runFinishParams struct {
	FinalPercent *float64
	FinishedAt   *time.Time
}

type RunFinishOption func(*runFinishParams)

func WithFinalPercent(p float64) RunFinishOption {
	return func(o *runFinishParams) {
		o.FinalPercent = &p
	}
}

func WithFinishedAt(t time.Time) RunFinishOption {
	return func(o *runFinishParams) {
		o.FinishedAt = &t
	}
}
