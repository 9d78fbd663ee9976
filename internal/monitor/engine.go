package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/restypanel/restywatch/internal/rates"
	"github.com/restypanel/restywatch/internal/scheduler"
	"github.com/restypanel/restywatch/internal/statusfeed"
	"github.com/restypanel/restywatch/internal/topology"
	"github.com/restypanel/restywatch/internal/window"
	"github.com/restypanel/restywatch/pkg/types"
)

//go:generate mockgen -source=engine.go -destination=mock_sources.go -package=monitor

// ErrTimeRange rejects a time range shorter than the sample interval.
var ErrTimeRange = errors.New("monitor: time range shorter than the sample interval")

// SnapshotSource returns one counter sample.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (types.Snapshot, error)
}

// StatusSource returns the raw upstream status page.
type StatusSource interface {
	FetchStatusText(ctx context.Context) (string, error)
}

// UpstreamSource refreshes the confirmed upstream configs.
type UpstreamSource interface {
	Refresh(ctx context.Context) ([]types.UpstreamConfig, error)
	Restore(ctx context.Context) int
}

// Tick describes one finished poll. Observers use it for "last updated"
// indicators only.
type Tick struct {
	Channel  string        `json:"channel"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// OK reports whether the poll succeeded.
func (t Tick) OK() bool { return t.Err == nil }

// Options wires an Engine.
type Options struct {
	Snapshots SnapshotSource
	Status    StatusSource
	Upstreams UpstreamSource
	Window    *window.Store
	Topology  *topology.Store

	SampleInterval   time.Duration
	TimeRange        time.Duration
	TopologyInterval time.Duration
}

// Engine is safe for concurrent use. Scheduled and manual polls may overlap;
// both end in a window append or a full view rebuild.
type Engine struct {
	snapshots SnapshotSource
	status    StatusSource
	upstreams UpstreamSource
	window    *window.Store
	topology  *topology.Store

	mu               sync.RWMutex
	sampleInterval   time.Duration
	timeRange        time.Duration
	topologyInterval time.Duration
	observers        []func(Tick)
	last             map[string]Tick
	sched            *scheduler.Scheduler

	now func() time.Time
}

// New builds an Engine. The window capacity is set from the time range and
// sample interval.
func New(opts Options) (*Engine, error) {
	if opts.Snapshots == nil || opts.Status == nil || opts.Upstreams == nil {
		return nil, fmt.Errorf("monitor: snapshot, status and upstream sources are required")
	}
	if opts.Window == nil || opts.Topology == nil {
		return nil, fmt.Errorf("monitor: window and topology stores are required")
	}
	if opts.SampleInterval <= 0 || opts.TopologyInterval <= 0 {
		return nil, fmt.Errorf("monitor: poll intervals must be positive")
	}
	e := &Engine{
		snapshots:        opts.Snapshots,
		status:           opts.Status,
		upstreams:        opts.Upstreams,
		window:           opts.Window,
		topology:         opts.Topology,
		sampleInterval:   opts.SampleInterval,
		timeRange:        opts.TimeRange,
		topologyInterval: opts.TopologyInterval,
		last:             make(map[string]Tick),
		now:              time.Now,
	}
	return e, nil
}

// Restore loads the persisted window and the cached upstream configs. Corrupt
// or unreadable state is logged and discarded.
func (e *Engine) Restore(ctx context.Context) {
	if err := e.window.Load(ctx); err != nil {
		slog.Warn("monitor: starting with an empty window", "err", err)
	}
	if err := e.window.SetCapacity(ctx, e.capacity()); err != nil {
		slog.Warn("monitor: window capacity not persisted", "err", err)
	}
	n := e.upstreams.Restore(ctx)
	slog.Info("monitor: state restored", "points", e.window.Len(), "upstreams", n)
}

func (e *Engine) capacity() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return window.MaxPoints(e.timeRange, e.sampleInterval)
}

// --- scheduling ---

// Start installs both timers; each polls immediately. Polls use ctx, which
// Stop does not cancel.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.sched != nil {
		e.sched.Stop()
	}
	e.sched = scheduler.New(ctx,
		func(ctx context.Context) { _ = e.PollMetrics(ctx) },
		func(ctx context.Context) { _ = e.PollTopology(ctx) },
	)
	sched, si, ti := e.sched, e.sampleInterval, e.topologyInterval
	e.mu.Unlock()

	return sched.Start(si, ti)
}

// Stop cancels both timers. In-flight polls still complete and apply.
func (e *Engine) Stop() {
	e.mu.RLock()
	sched := e.sched
	e.mu.RUnlock()
	if sched != nil {
		sched.Stop()
	}
}

// Wait blocks until stopped timers have no poll in flight, or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.RLock()
	sched := e.sched
	e.mu.RUnlock()
	if sched == nil {
		return nil
	}
	return sched.Wait(ctx)
}

// Scheduler returns the running scheduler, or nil before Start.
func (e *Engine) Scheduler() *scheduler.Scheduler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sched
}

// SetSampleInterval changes the metrics cadence, the rate divisor and the
// window capacity together. A stopped metrics timer stays stopped.
func (e *Engine) SetSampleInterval(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %v", scheduler.ErrInterval, d)
	}
	e.mu.Lock()
	e.sampleInterval = d
	sched := e.sched
	e.mu.Unlock()

	if sched != nil {
		if err := sched.Metrics.UpdateInterval(d); err != nil {
			return err
		}
	}
	return e.window.SetCapacity(ctx, e.capacity())
}

// SetTopologyInterval changes the topology cadence.
func (e *Engine) SetTopologyInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %v", scheduler.ErrInterval, d)
	}
	e.mu.Lock()
	e.topologyInterval = d
	sched := e.sched
	e.mu.Unlock()

	if sched != nil {
		return sched.Topology.UpdateInterval(d)
	}
	return nil
}

// SetTimeWindow changes the time range; the window is truncated from the
// head when it shrinks.
func (e *Engine) SetTimeWindow(ctx context.Context, timeRange time.Duration) error {
	e.mu.Lock()
	if timeRange < e.sampleInterval {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTimeRange, timeRange)
	}
	e.timeRange = timeRange
	e.mu.Unlock()

	slog.Info("monitor: time window changed", "time_range", timeRange, "max_points", e.capacity())
	return e.window.SetCapacity(ctx, e.capacity())
}

// Intervals returns the sample interval, time range and topology interval.
func (e *Engine) Intervals() (sample, timeRange, topo time.Duration) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sampleInterval, e.timeRange, e.topologyInterval
}

// Clear empties the window.
func (e *Engine) Clear(ctx context.Context) error {
	return e.window.Clear(ctx)
}

// --- polling ---

// PollMetrics fetches one snapshot and appends it. On failure the window is
// left unchanged and the error is returned.
func (e *Engine) PollMetrics(ctx context.Context) error {
	start := e.now()
	snap, err := e.snapshots.FetchSnapshot(ctx)
	if err != nil {
		slog.Warn("monitor: metrics poll failed, skipping tick", "err", err)
		e.emit(Tick{Channel: scheduler.ChannelMetrics, At: start, Duration: e.now().Sub(start), Err: err})
		return err
	}
	if err := e.window.Append(ctx, snap); err != nil {
		// The in-memory window is updated even when persistence fails.
		slog.Debug("monitor: window persistence", "err", err)
	}
	e.emit(Tick{Channel: scheduler.ChannelMetrics, At: snap.Timestamp, Duration: e.now().Sub(start)})
	return nil
}

// PollTopology refreshes the upstream configs, fetches the status page and
// rebuilds every upstream's views.
func (e *Engine) PollTopology(ctx context.Context) error {
	start := e.now()
	fail := func(err error) error {
		slog.Warn("monitor: topology poll failed, keeping previous views", "err", err)
		e.emit(Tick{Channel: scheduler.ChannelTopology, At: start, Duration: e.now().Sub(start), Err: err})
		return err
	}

	if _, err := e.upstreams.Refresh(ctx); err != nil {
		return fail(err)
	}
	text, err := e.status.FetchStatusText(ctx)
	if err != nil {
		return fail(err)
	}

	snap := statusfeed.Parse(text)
	if snap.Stats.Ignored > 0 {
		slog.Debug("monitor: status page lines ignored",
			"ignored", snap.Stats.Ignored, "lines", snap.Stats.Lines)
	}
	e.topology.ApplyStatus(snap)
	e.emit(Tick{Channel: scheduler.ChannelTopology, At: e.now(), Duration: e.now().Sub(start)})
	return nil
}

// --- observers ---

// OnTick registers fn to be called after every poll, successful or not.
func (e *Engine) OnTick(fn func(Tick)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// LastTick returns the most recent tick on channel.
func (e *Engine) LastTick(channel string) (Tick, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.last[channel]
	return t, ok
}

func (e *Engine) emit(t Tick) {
	e.mu.Lock()
	e.last[t.Channel] = t
	obs := make([]func(Tick), len(e.observers))
	copy(obs, e.observers)
	e.mu.Unlock()

	for _, fn := range obs {
		fn(t)
	}
}

// --- read accessors ---

// DerivedSeries returns the rate series of the current window.
func (e *Engine) DerivedSeries() rates.Series {
	e.mu.RLock()
	si := e.sampleInterval
	e.mu.RUnlock()
	return rates.Derive(e.window.Points(), si)
}

// Summary returns the headline numbers for the latest sample.
func (e *Engine) Summary() rates.Summary {
	latest, _ := e.window.Latest()
	return rates.Summarize(latest, e.DerivedSeries(), e.now())
}

// Points returns a copy of the raw window.
func (e *Engine) Points() []types.Snapshot { return e.window.Points() }

// WindowInfo returns the current length and capacity of the window.
func (e *Engine) WindowInfo() (length, capacity int) {
	return e.window.Len(), e.window.Capacity()
}

// ServerViews returns the reconciled views of one upstream.
func (e *Engine) ServerViews(name string) []types.ServerView {
	return e.topology.Views(name)
}

// Upstreams returns every upstream entry sorted by name.
func (e *Engine) Upstreams() []*topology.Entry {
	return e.topology.List()
}

// Upstream returns one upstream entry.
func (e *Engine) Upstream(name string) (*topology.Entry, bool) {
	return e.topology.Get(name)
}
