// Package monitor polls a training job's progress on a fixed cadence.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/ldawatch/internal/trainer"
	"github.com/kiranshivaraju/ldawatch/pkg/models"
)

// DefaultInterval is the period between progress queries.
const DefaultInterval = 2000 * time.Millisecond

// State is the lifecycle state of a Poller.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Update is the outcome of one poll tick. Exactly one of Progress and Err is set.
type Update struct {
	JobID    string
	Tick     int
	At       time.Time
	Progress *models.Progress
	Err      error
}

// Sink consumes poll updates. Sinks are called sequentially from the tick
// goroutine and must not block for long.
type Sink interface {
	Consume(ctx context.Context, u Update)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, u Update)

func (f SinkFunc) Consume(ctx context.Context, u Update) { f(ctx, u) }

// ErrLeaseLost is returned by a Heartbeat when another process has taken
// over the job. The poller stops when it sees it.
var ErrLeaseLost = errors.New("monitoring lease lost")

// Heartbeat is called on every tick of the poller's ticker, whether or not a
// query is still in flight, so leases outlive slow queries.
type Heartbeat interface {
	Beat(ctx context.Context, jobID string) error
}

// ProgressFetcher is the slice of trainer.Client the poller needs.
type ProgressFetcher interface {
	Progress(ctx context.Context, jobID string) (*models.Progress, error)
}

// Options configures a Poller.
type Options struct {
	Interval       time.Duration
	StopOnTerminal bool
	Sinks          []Sink
	Heartbeats     []Heartbeat
	Logger         *slog.Logger
}

// Poller owns the repeating timer that queries job progress. It moves from
// idle to polling on Start and to stopped on Stop, context cancellation, or
// terminal progress. A stopped Poller cannot be restarted.
type Poller struct {
	jobID          string
	client         ProgressFetcher
	interval       time.Duration
	stopOnTerminal bool
	sinks          []Sink
	heartbeats     []Heartbeat
	logger         *slog.Logger

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	stopped chan struct{}
	last    *Update

	inFlight atomic.Bool
	beating  atomic.Bool
	ticks    atomic.Int64
	skipped  atomic.Int64
	wg       sync.WaitGroup
}

// NewPoller creates an idle Poller for jobID.
func NewPoller(client ProgressFetcher, jobID string, opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		jobID:          jobID,
		client:         client,
		interval:       interval,
		stopOnTerminal: opts.StopOnTerminal,
		sinks:          opts.Sinks,
		heartbeats:     opts.Heartbeats,
		logger:         logger.With("job_id", jobID),
		state:          StateIdle,
		stopped:        make(chan struct{}),
	}
}

// Start begins polling. The first query fires one interval after Start.
// Calling Start on a polling or stopped Poller does nothing and returns false.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		p.logger.Debug("poller start ignored", "state", p.state.String())
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = StatePolling

	go p.loop(loopCtx)

	p.logger.Info("progress monitoring started", "interval_ms", p.interval.Milliseconds())
	return true
}

// Stop cancels the timer. It does not wait for an in-flight query; use Wait
// for that. Stop is safe to call any number of times from any goroutine,
// including from a Sink.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateStopped:
		return
	case StateIdle:
		p.state = StateStopped
		close(p.stopped)
		return
	}
	p.state = StateStopped
	p.cancel()
	close(p.stopped)
	p.logger.Info("progress monitoring stopped",
		"ticks", p.ticks.Load(),
		"skipped", p.skipped.Load(),
	)
}

// Wait blocks until the loop and any in-flight query have returned. It
// returns immediately for a Poller that was never started.
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Done is closed once the Poller has been stopped for any reason.
func (p *Poller) Done() <-chan struct{} {
	return p.stopped
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Last returns the most recent update, if any tick has completed.
func (p *Poller) Last() (Update, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Update{}, false
	}
	return *p.last, true
}

// JobID returns the job this poller watches.
func (p *Poller) JobID() string {
	return p.jobID
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer func() {
		ticker.Stop()
		p.wg.Wait()
		close(p.done)
	}()

	for {
		select {
		case <-ctx.Done():
			p.markStopped()
			return
		case <-ticker.C:
			p.beat(ctx)

			// One query at a time; ticks that land while a query is
			// outstanding are dropped.
			if !p.inFlight.CompareAndSwap(false, true) {
				p.skipped.Add(1)
				p.logger.Debug("tick skipped, previous query still in flight")
				continue
			}
			tick := int(p.ticks.Add(1))
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer p.inFlight.Store(false)
				p.tick(ctx, tick)
			}()
		}
	}
}

func (p *Poller) tick(ctx context.Context, n int) {
	start := time.Now()
	u := Update{JobID: p.jobID, Tick: n, At: start}

	progress, err := p.client.Progress(ctx, p.jobID)
	if err != nil {
		if ctx.Err() != nil {
			// Stopped while the query was outstanding.
			return
		}
		u.Err = err
		p.logger.Error("progress query failed",
			"tick", n,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		u.Progress = progress
	}

	p.mu.Lock()
	p.last = &u
	p.mu.Unlock()

	// Sinks finish their writes even if Stop lands mid-delivery.
	sinkCtx := context.WithoutCancel(ctx)
	for _, s := range p.sinks {
		s.Consume(sinkCtx, u)
	}

	if u.Progress != nil && u.Progress.Terminal() && p.stopOnTerminal {
		p.logger.Info("job reached terminal state",
			"percent", u.Progress.Percent,
			"status", u.Progress.Outcome(),
		)
		p.Stop()
	}
}

// beat runs the heartbeats off the loop goroutine. A beat still running
// from the previous tick is not doubled up.
func (p *Poller) beat(ctx context.Context) {
	if len(p.heartbeats) == 0 || !p.beating.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.beating.Store(false)
		for _, h := range p.heartbeats {
			err := h.Beat(ctx, p.jobID)
			if errors.Is(err, ErrLeaseLost) {
				p.logger.Warn("monitoring lease lost, stopping")
				p.Stop()
				return
			}
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}()
}

// markStopped records a stop caused by parent context cancellation.
func (p *Poller) markStopped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePolling {
		p.state = StateStopped
		close(p.stopped)
		p.logger.Info("progress monitoring stopped by context")
	}
}

var _ ProgressFetcher = (trainer.Client)(nil)
