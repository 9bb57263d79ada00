// Package tracker maintains the pending request slots that bridge
// synchronous callers to asynchronous results. Each in-flight request owns
// one slot keyed by its correlation id; the dispatch loop resolves slots
// as results arrive, and a background sweep reclaims slots whose owner
// never collected.
package tracker

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/objectrelay/envelope"
	"github.com/c360/objectrelay/metric"
)

// Sentinel errors for slot lifecycle violations
var (
	// ErrDuplicateCorrelation is returned when a correlation id is already
	// registered. Correlation ids are single use while a request is in
	// flight.
	ErrDuplicateCorrelation = stderrors.New("correlation id already pending")

	// ErrRequestTimeout is returned by Await when no result arrived within
	// the deadline. The slot is gone afterwards, so a late result is
	// counted as orphaned rather than delivered.
	ErrRequestTimeout = stderrors.New("timed out waiting for result")
)

// Defaults for the background sweep
const (
	DefaultSweepInterval = 30 * time.Second
	DefaultSweepAge      = 5 * time.Minute
)

type slot struct {
	ch        chan envelope.Result
	createdAt time.Time
}

// Tracker is a thread-safe registry of pending request slots
type Tracker struct {
	mu    sync.Mutex
	slots map[string]*slot

	logger        *slog.Logger
	metrics       *metric.Metrics
	sweepInterval time.Duration
	sweepAge      time.Duration
}

// Option configures the tracker
type Option func(*Tracker)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithMetrics attaches pipeline metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithSweepInterval sets how often the background sweep runs
func WithSweepInterval(d time.Duration) Option {
	return func(t *Tracker) { t.sweepInterval = d }
}

// WithSweepAge sets how old a slot must be before the sweep reclaims it.
// It should comfortably exceed the longest request timeout, since the
// sweep only exists to catch slots whose owner never awaited.
func WithSweepAge(d time.Duration) Option {
	return func(t *Tracker) { t.sweepAge = d }
}

// New creates a tracker with no pending slots
func New(opts ...Option) *Tracker {
	t := &Tracker{
		slots:         make(map[string]*slot),
		logger:        slog.Default(),
		sweepInterval: DefaultSweepInterval,
		sweepAge:      DefaultSweepAge,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "tracker")
	return t
}

// Pending is the caller's handle on a registered slot
type Pending struct {
	CorrelationID string
	ch            <-chan envelope.Result
	tracker       *Tracker
}

// Register creates a pending slot for a correlation id. The returned
// handle is how the caller collects the result; every Register must be
// paired with an Await or a Release or the slot lives until the sweep.
func (t *Tracker) Register(correlationID string) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.slots[correlationID]; exists {
		return nil, ErrDuplicateCorrelation
	}

	s := &slot{
		ch:        make(chan envelope.Result, 1),
		createdAt: time.Now(),
	}
	t.slots[correlationID] = s
	t.updateGaugeLocked()

	return &Pending{
		CorrelationID: correlationID,
		ch:            s.ch,
		tracker:       t,
	}, nil
}

// Resolve delivers a result to its pending slot. It reports whether a
// slot existed; a false return means the result is orphaned, typically
// because the request already timed out.
//
// The slot is removed and the result buffered under one lock acquisition,
// so at most one of Resolve and the Await timeout can ever win.
func (t *Tracker) Resolve(correlationID string, result envelope.Result) bool {
	t.mu.Lock()
	s, exists := t.slots[correlationID]
	if exists {
		delete(t.slots, correlationID)
		s.ch <- result
		t.updateGaugeLocked()
	}
	t.mu.Unlock()

	if !exists {
		if t.metrics != nil {
			t.metrics.RecordOrphanedResult()
		}
		t.logger.Warn("orphaned result discarded",
			"correlation_id", correlationID,
			"status", result.Status)
		return false
	}
	return true
}

// Await blocks until the slot resolves, the timeout elapses, or ctx is
// cancelled. On timeout the slot is removed first, so a result arriving
// afterwards is orphaned rather than delivered; if the resolution raced
// the timer and won, the buffered result is returned instead.
func (p *Pending) Await(ctx context.Context, timeout time.Duration) (envelope.Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-p.ch:
		return result, nil

	case <-ctx.Done():
		p.tracker.remove(p.CorrelationID)
		return envelope.Result{}, ctx.Err()

	case <-timer.C:
		if p.tracker.remove(p.CorrelationID) {
			return envelope.Result{}, ErrRequestTimeout
		}
		// Resolve won the race; the result is already buffered
		return <-p.ch, nil
	}
}

// Release removes the slot without waiting. Callers use it when the
// request never made it onto the queue, so no result can ever arrive.
func (p *Pending) Release() {
	p.tracker.remove(p.CorrelationID)
}

// remove deletes a slot and reports whether it still existed
func (t *Tracker) remove(correlationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.slots[correlationID]; !exists {
		return false
	}
	delete(t.slots, correlationID)
	t.updateGaugeLocked()
	return true
}

// Len returns the number of pending slots
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Run sweeps abandoned slots until ctx is cancelled. A slot is abandoned
// when it outlives the sweep age, which only happens if its owner neither
// awaited nor released it.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.sweep(time.Now())
		}
	}
}

// sweep removes every slot older than the sweep age
func (t *Tracker) sweep(now time.Time) {
	cutoff := now.Add(-t.sweepAge)

	t.mu.Lock()
	var swept []string
	for id, s := range t.slots {
		if s.createdAt.Before(cutoff) {
			swept = append(swept, id)
			delete(t.slots, id)
		}
	}
	if len(swept) > 0 {
		t.updateGaugeLocked()
	}
	t.mu.Unlock()

	for _, id := range swept {
		if t.metrics != nil {
			t.metrics.RecordSweptSlot()
		}
		t.logger.Warn("swept abandoned slot", "correlation_id", id)
	}
}

// updateGaugeLocked pushes the slot count to metrics; callers hold t.mu
func (t *Tracker) updateGaugeLocked() {
	if t.metrics != nil {
		t.metrics.SetPendingSlots(len(t.slots))
	}
}
