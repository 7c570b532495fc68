package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/ldawatch/internal/api/response"
	"github.com/kiranshivaraju/ldawatch/internal/monitor"
	"github.com/kiranshivaraju/ldawatch/internal/store"
	"github.com/kiranshivaraju/ldawatch/pkg/models"
)

// PollerView is the part of the poller the status API exposes.
type PollerView interface {
	JobID() string
	State() monitor.State
	Last() (monitor.Update, bool)
	Stop()
}

// SnapshotReader reads the latest stored progress for a job.
type SnapshotReader interface {
	GetProgress(ctx context.Context, jobID string) (*models.Progress, bool, error)
}

// RunReader reads run history.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	LatestRun(ctx context.Context, jobID string) (*models.Run, error)
	ListSnapshots(ctx context.Context, runID uuid.UUID, limit int) ([]*models.Snapshot, error)
}

// jobIDParam returns the decoded {jobID}. chi matches on the escaped path
// when one is present, so "a%2Fb" arrives still escaped.
func jobIDParam(r *http.Request) (string, error) {
	v := chi.URLParam(r, "jobID")
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 500
)

// snapshotLimit parses the optional ?limit= query parameter.
func snapshotLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultSnapshotLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, maxSnapshotLimit), true
}

type progressResponse struct {
	JobID     string           `json:"job_id"`
	State     string           `json:"state"`
	Source    string           `json:"source"`
	Progress  *models.Progress `json:"progress"`
	Terminal  bool             `json:"terminal"`
	LastError string           `json:"last_error,omitempty"`
	LastTick  *time.Time       `json:"last_tick,omitempty"`
}

// NewProgressHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/progress.
// The shared snapshot wins over the local poller so any process can answer
// for a job monitored elsewhere. snapshots may be nil.
func NewProgressHandler(p PollerView, snapshots SnapshotReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := jobIDParam(r)
		if err != nil {
			response.BadRequest(w, "Invalid job ID")
			return
		}
		local := p != nil && p.JobID() == jobID

		out := progressResponse{JobID: jobID, State: "unknown"}
		if local {
			out.State = p.State().String()
		}

		if snapshots != nil {
			prog, found, err := snapshots.GetProgress(r.Context(), jobID)
			if err != nil {
				slog.Warn("read progress snapshot failed", "job_id", jobID, "error", err)
			}
			if found {
				out.Source = "cache"
				out.Progress = prog
			}
		}

		if local {
			if u, ok := p.Last(); ok {
				at := u.At
				out.LastTick = &at
				if u.Err != nil {
					out.LastError = u.Err.Error()
				}
				if out.Progress == nil && u.Progress != nil {
					out.Source = "poller"
					out.Progress = u.Progress
				}
			}
		}

		if out.Progress == nil && !local {
			response.NotFound(w, "No progress known for job")
			return
		}
		if out.Progress != nil {
			out.Terminal = out.Progress.Terminal()
		}

		response.JSON(w, out)
	}
}

// NewLatestRunHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/runs/latest.
func NewLatestRunHandler(runs RunReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := jobIDParam(r)
		if err != nil {
			response.BadRequest(w, "Invalid job ID")
			return
		}
		limit, ok := snapshotLimit(r)
		if !ok {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}

		run, err := runs.LatestRun(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(w, "No runs recorded for job")
			return
		}
		if err != nil {
			slog.Error("latest run lookup failed", "job_id", jobID, "error", err)
			response.Internal(w)
			return
		}

		writeRun(w, r, runs, run, limit)
	}
}

// NewRunHandler returns an http.HandlerFunc for GET /api/v1/runs/{runID}.
func NewRunHandler(runs RunReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "runID"))
		if err != nil {
			response.BadRequest(w, "runID must be a UUID")
			return
		}
		limit, ok := snapshotLimit(r)
		if !ok {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}

		run, err := runs.GetRun(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(w, "Run not found")
			return
		}
		if err != nil {
			slog.Error("run lookup failed", "run_id", id, "error", err)
			response.Internal(w)
			return
		}

		writeRun(w, r, runs, run, limit)
	}
}

func writeRun(w http.ResponseWriter, r *http.Request, runs RunReader, run *models.Run, limit int) {
	snaps, err := runs.ListSnapshots(r.Context(), run.ID, limit)
	if err != nil {
		slog.Error("list snapshots failed", "run_id", run.ID, "error", err)
		response.Internal(w)
		return
	}

	response.JSON(w, map[string]any{
		"run":       run,
		"snapshots": snaps,
	})
}

// NewStopHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/stop.
// Stopping an already stopped poller is not an error.
func NewStopHandler(p PollerView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := jobIDParam(r)
		if err != nil {
			response.BadRequest(w, "Invalid job ID")
			return
		}
		if p == nil || p.JobID() != jobID {
			response.NotFound(w, "Job is not monitored by this process")
			return
		}

		p.Stop()
		slog.Info("progress monitoring stop requested", "job_id", jobID, "remote_addr", r.RemoteAddr)

		response.Accepted(w, map[string]string{
			"job_id": jobID,
			"state":  p.State().String(),
		})
	}
}
