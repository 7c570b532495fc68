package models

import "strings"

// Start statuses reported by POST /lda/{jobID}. Only StartStatusStarted
// hands off to progress monitoring.
const (
	StartStatusStarted = "started"
	StartStatusOngoing = "ongoing"
	StartStatusError   = "error"
)

// Terminal progress statuses. The training service does not always send a
// status; a percent of 100 or more is treated as completed.
const (
	ProgressStatusCompleted = "completed"
	ProgressStatusFailed    = "failed"
	ProgressStatusCancelled = "cancelled"
	ProgressStatusError     = "error"
)

// StartResponse is the body returned by the start endpoint.
type StartResponse struct {
	Status  string `json:"status"`
	AppName string `json:"app_name,omitempty"`
	Message string `json:"message,omitempty"`

	// HTTPStatus is the status code the body arrived with.
	HTTPStatus int `json:"-"`
}

// Started reports whether the service acknowledged the job as started.
func (r StartResponse) Started() bool {
	return r.Status == StartStatusStarted
}

// Progress is the body returned by GET /progress/{jobID}.
type Progress struct {
	Percent     float64 `json:"percent"`
	Description string  `json:"description"`
	Timestamp   string  `json:"timestamp"`
	AppName     string  `json:"app_name"`
	Status      string  `json:"status,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (p Progress) Terminal() bool {
	return p.Outcome() != RunStatusRunning
}

// Outcome maps progress to the run status stored in history. Non-terminal
// progress yields RunStatusRunning.
//
// The training service reports cancellation and failure by resetting percent
// to 0 with a description such as "Training X dibatalkan" or
// "Training X gagal: <reason>", without a status field.
func (p Progress) Outcome() string {
	if p.Percent >= 100 {
		return RunStatusCompleted
	}
	switch strings.ToLower(p.Status) {
	case ProgressStatusCompleted:
		return RunStatusCompleted
	case ProgressStatusCancelled:
		return RunStatusCancelled
	case ProgressStatusFailed, ProgressStatusError:
		return RunStatusFailed
	}
	if p.Percent > 0 {
		return RunStatusRunning
	}
	desc := strings.ToLower(p.Description)
	for _, w := range cancelledWords {
		if strings.Contains(desc, w) {
			return RunStatusCancelled
		}
	}
	for _, w := range failedWords {
		if strings.Contains(desc, w) {
			return RunStatusFailed
		}
	}
	return RunStatusRunning
}

// Description markers the service uses for a zeroed, finished job.
var (
	cancelledWords = []string{"dibatalkan", "cancelled", "canceled"}
	failedWords    = []string{" gagal", "failed:"}
)

// CancelResponse is the body returned by POST /cancel-training/{jobID}.
type CancelResponse struct {
	Status  string `json:"status"`
	AppName string `json:"app_name,omitempty"`
	Message string `json:"message,omitempty"`

	HTTPStatus int `json:"-"`
}
