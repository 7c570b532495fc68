package monitor

import (
	"context"
	"log/slog"
)

// LogSink logs every update at info level, failures at warn.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Consume(_ context.Context, u Update) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if u.Err != nil {
		logger.Warn("progress unavailable", "job_id", u.JobID, "tick", u.Tick, "error", u.Err)
		return
	}
	logger.Info("progress",
		"job_id", u.JobID,
		"tick", u.Tick,
		"percent", u.Progress.Percent,
		"description", u.Progress.Description,
	)
}

// ChannelSink forwards updates to a buffered channel so callers can observe
// progress and failures without reading logs. Updates are dropped when the
// buffer is full.
type ChannelSink struct {
	ch chan Update
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Update, buffer)}
}

func (s *ChannelSink) Consume(_ context.Context, u Update) {
	select {
	case s.ch <- u:
	default:
	}
}

// Updates returns the receive side of the channel. It is never closed.
func (s *ChannelSink) Updates() <-chan Update {
	return s.ch
}
