package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Channel names, used for ticks, health service names and routes.
const (
	// ChannelMetrics polls the counter snapshot at the sample interval.
	ChannelMetrics = "metrics"

	// ChannelTopology polls upstream configs and the status page.
	ChannelTopology = "topology"
)

// waitPoll is how often Wait checks for an in-flight poll.
const waitPoll = 5 * time.Millisecond

// ErrInterval is returned for a non-positive interval.
var ErrInterval = errors.New("scheduler: interval must be positive")

// PollFunc performs one poll. ctx is the timer's base context, which Stop
// does not cancel.
type PollFunc func(ctx context.Context)

// Timer runs a PollFunc on a fixed cadence. At most one scheduled poll is in
// flight at a time; ticks that land while one is running are skipped.
type Timer struct {
	name string
	fn   PollFunc
	base context.Context

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{} // closed when the loop goroutine exits
	interval time.Duration

	inflight atomic.Bool
	skipped  atomic.Int64
}

// NewTimer returns a stopped timer. Polls run with ctx until ctx is done.
func NewTimer(ctx context.Context, name string, fn PollFunc) *Timer {
	return &Timer{name: name, fn: fn, base: ctx}
}

// Name returns the channel name.
func (t *Timer) Name() string { return t.name }

// Start cancels any running loop, installs a new one at interval and polls
// immediately.
func (t *Timer) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s %v", ErrInterval, t.name, interval)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()

	stop, done := make(chan struct{}), make(chan struct{})
	t.stop, t.done = stop, done
	t.interval = interval
	go func() {
		defer close(done)
		t.loop(stop, interval)
	}()

	slog.Debug("scheduler: started", "channel", t.name, "interval", interval)
	return nil
}

// Stop cancels the loop. It is safe to call on a stopped timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopLocked() {
		slog.Debug("scheduler: stopped", "channel", t.name)
	}
}

func (t *Timer) stopLocked() bool {
	if t.stop == nil {
		return false
	}
	close(t.stop)
	t.stop = nil
	return true
}

// UpdateInterval restarts a running timer at d. A stopped timer only records
// the new interval and stays stopped.
func (t *Timer) UpdateInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s %v", ErrInterval, t.name, d)
	}
	t.mu.Lock()
	running := t.stop != nil
	if !running {
		t.interval = d
	}
	t.mu.Unlock()

	if running {
		return t.Start(d)
	}
	return nil
}

// Running reports whether the loop is installed.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// Interval returns the current (or last configured) interval.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Wait blocks until a stopped timer's loop has exited and no poll is in
// flight, or ctx is done. On a running timer it only waits out the current poll.
func (t *Timer) Wait(ctx context.Context) error {
	t.mu.Lock()
	running, done := t.stop != nil, t.done
	t.mu.Unlock()

	if !running && done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for t.inflight.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitPoll):
		}
	}
	return nil
}

// Skipped returns how many ticks were dropped because a poll was in flight.
func (t *Timer) Skipped() int64 { return t.skipped.Load() }

func (t *Timer) loop(stop <-chan struct{}, interval time.Duration) {
	t.fire()

	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.base.Done():
			return
		case <-tk.C:
			t.fire()
		}
	}
}

func (t *Timer) fire() {
	if t.base.Err() != nil {
		return
	}
	if !t.inflight.CompareAndSwap(false, true) {
		t.skipped.Add(1)
		return
	}
	go func() {
		defer t.inflight.Store(false)
		t.fn(t.base)
	}()
}
