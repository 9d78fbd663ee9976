package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/restypanel/restywatch/internal/gateway"
	"github.com/restypanel/restywatch/internal/kv"
	"github.com/restypanel/restywatch/internal/scheduler"
	"github.com/restypanel/restywatch/internal/topology"
	"github.com/restypanel/restywatch/internal/window"
	"github.com/restypanel/restywatch/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine    *Engine
	snapshots *MockSnapshotSource
	status    *MockStatusSource
	upstreams *MockUpstreamSource
	topo      *topology.Store
	win       *window.Store
	backend   *kv.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		snapshots: NewMockSnapshotSource(ctrl),
		status:    NewMockStatusSource(ctrl),
		upstreams: NewMockUpstreamSource(ctrl),
		topo:      topology.NewStore(),
		backend:   kv.NewMemory(),
	}
	f.win = window.New(f.backend, window.MaxPoints(5*time.Minute, 3*time.Second))

	e, err := New(Options{
		Snapshots:        f.snapshots,
		Status:           f.status,
		Upstreams:        f.upstreams,
		Window:           f.win,
		Topology:         f.topo,
		SampleInterval:   3 * time.Second,
		TimeRange:        5 * time.Minute,
		TopologyInterval: 5 * time.Second,
	})
	require.NoError(t, err)
	e.now = func() time.Time { return baseTime }
	f.engine = e
	return f
}

func sample(n int, requests float64) types.Snapshot {
	return types.Snapshot{
		Timestamp: baseTime.Add(time.Duration(n) * 3 * time.Second),
		Counters:  map[string]float64{types.CounterRequestsTotal: requests},
	}
}

// configs makes Refresh install cfgs into the topology store, as the real
// upstream manager does.
func (f *fixture) configs(t *testing.T, js string) {
	t.Helper()
	var cfgs []types.UpstreamConfig
	require.NoError(t, json.Unmarshal([]byte(js), &cfgs))
	f.upstreams.EXPECT().Refresh(gomock.Any()).DoAndReturn(func(context.Context) ([]types.UpstreamConfig, error) {
		f.topo.SetConfigs(cfgs)
		return cfgs, nil
	}).AnyTimes()
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

// --- metrics ---

func TestPollMetrics_AppendsAndDerives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gomock.InOrder(
		f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(sample(0, 1000), nil),
		f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(sample(1, 1030), nil),
		f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(sample(2, 1090), nil),
	)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.PollMetrics(ctx))
	}

	s := f.engine.DerivedSeries()
	assert.Equal(t, []float64{0, 10, 20}, s.Rates[types.CounterRequestsTotal])
	assert.Equal(t, []string{"12:00:00", "12:00:03", "12:00:06"}, s.Labels)
	assert.Equal(t, 3, f.win.Len())
}

func TestOnTick_ObserversRunInOrderWithoutLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var order []string
	f.engine.OnTick(func(tk Tick) {
		order = append(order, "first:"+tk.Channel)
		// Reading engine state from an observer must not deadlock.
		_, ok := f.engine.LastTick(tk.Channel)
		assert.True(t, ok)
	})
	f.engine.OnTick(func(tk Tick) {
		order = append(order, "second:"+tk.Channel)
		// Registering from inside an observer only affects later ticks.
		f.engine.OnTick(func(Tick) { order = append(order, "late") })
	})

	f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(sample(0, 10), nil).Times(2)
	require.NoError(t, f.engine.PollMetrics(ctx))
	assert.Equal(t, []string{"first:metrics", "second:metrics"}, order)

	order = nil
	require.NoError(t, f.engine.PollMetrics(ctx))
	assert.Equal(t, []string{"first:metrics", "second:metrics", "late"}, order)
}

func TestPollMetrics_TransportErrorSkipsTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ticks []Tick
	f.engine.OnTick(func(tk Tick) { ticks = append(ticks, tk) })

	boom := &gateway.TransportError{Op: "fetch status", Err: errors.New("timeout")}
	gomock.InOrder(
		f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(sample(0, 10), nil),
		f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(types.Snapshot{}, boom),
	)
	require.NoError(t, f.engine.PollMetrics(ctx))
	before := f.engine.Points()

	err := f.engine.PollMetrics(ctx)
	assert.True(t, gateway.IsTransport(err))
	assert.Equal(t, before, f.engine.Points(), "window must be unchanged after a failed poll")

	require.Len(t, ticks, 2)
	assert.True(t, ticks[0].OK())
	assert.False(t, ticks[1].OK())

	last, ok := f.engine.LastTick(scheduler.ChannelMetrics)
	require.True(t, ok)
	assert.Error(t, last.Err)
}

func TestPollMetrics_WindowBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := 0
	f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).DoAndReturn(func(context.Context) (types.Snapshot, error) {
		s := sample(n, float64(n))
		n++
		return s, nil
	}).Times(150)

	for i := 0; i < 150; i++ {
		require.NoError(t, f.engine.PollMetrics(ctx))
	}
	pts := f.engine.Points()
	require.Len(t, pts, 100)
	assert.Equal(t, float64(50), pts[0].Counter(types.CounterRequestsTotal))
	assert.Equal(t, float64(149), pts[99].Counter(types.CounterRequestsTotal))
}

// --- topology ---

func TestPollTopology_StaticAndDynamic(t *testing.T) {
	f := newFixture(t)
	f.configs(t, `[{"name":"api","servers":[{"address":"10.0.0.1:80"}]}]`)
	f.status.EXPECT().FetchStatusText(gomock.Any()).
		Return("Upstream api\nPrimary Peers\n10.0.0.1:80 up\n10.0.0.2:80 up", nil)

	require.NoError(t, f.engine.PollTopology(context.Background()))

	views := f.engine.ServerViews("api")
	require.Len(t, views, 2)
	assert.Equal(t, types.ServerView{Address: "10.0.0.1:80", Enabled: true, Origin: types.OriginStatic,
		Health: types.HealthUp, RawStatus: "up", Section: "primary"}, views[0])
	assert.Equal(t, types.ServerView{Address: "10.0.0.2:80", Enabled: true, Origin: types.OriginDynamic,
		Health: types.HealthUp, RawStatus: "up", Section: "primary"}, views[1])
}

func TestPollTopology_NoCheckers(t *testing.T) {
	f := newFixture(t)
	f.configs(t, `[{"name":"api","servers":["10.0.0.1:80","10.0.0.2:80"]}]`)
	f.status.EXPECT().FetchStatusText(gomock.Any()).
		Return("Upstream api NO checkers\nPrimary Peers\n10.0.0.1:80 up\n", nil)

	require.NoError(t, f.engine.PollTopology(context.Background()))
	for _, v := range f.engine.ServerViews("api") {
		assert.Equal(t, types.HealthUnknown, v.Health, v.Address)
	}
	e, ok := f.engine.Upstream("api")
	require.True(t, ok)
	assert.True(t, e.NoChecker)
}

func TestPollTopology_DynamicDisappears(t *testing.T) {
	f := newFixture(t)
	f.configs(t, `[{"name":"api","servers":["10.0.0.1:80"]}]`)
	gomock.InOrder(
		f.status.EXPECT().FetchStatusText(gomock.Any()).Return("Upstream api\nPrimary Peers\n10.0.0.1:80 up\n10.0.0.9:80 up\n", nil),
		f.status.EXPECT().FetchStatusText(gomock.Any()).Return("Upstream api\nPrimary Peers\n10.0.0.1:80 up\n", nil),
	)
	ctx := context.Background()

	require.NoError(t, f.engine.PollTopology(ctx))
	assert.Len(t, f.engine.ServerViews("api"), 2)

	require.NoError(t, f.engine.PollTopology(ctx))
	views := f.engine.ServerViews("api")
	require.Len(t, views, 1)
	assert.Equal(t, "10.0.0.1:80", views[0].Address)
}

func TestPollTopology_StatusFailureKeepsViews(t *testing.T) {
	f := newFixture(t)
	f.configs(t, `[{"name":"api","servers":["10.0.0.1:80"]}]`)
	gomock.InOrder(
		f.status.EXPECT().FetchStatusText(gomock.Any()).Return("Upstream api\nPrimary Peers\n10.0.0.1:80 down\n", nil),
		f.status.EXPECT().FetchStatusText(gomock.Any()).Return("", &gateway.TransportError{Op: "fetch upstream status", Err: errors.New("refused")}),
	)
	ctx := context.Background()

	require.NoError(t, f.engine.PollTopology(ctx))
	require.Error(t, f.engine.PollTopology(ctx))
	assert.Equal(t, types.HealthDown, f.engine.ServerViews("api")[0].Health)
}

func TestPollTopology_RefreshFailureSkipsStatus(t *testing.T) {
	f := newFixture(t)
	f.upstreams.EXPECT().Refresh(gomock.Any()).Return(nil, errors.New("gateway: list upstreams: http 500"))
	f.status.EXPECT().FetchStatusText(gomock.Any()).Times(0)

	assert.Error(t, f.engine.PollTopology(context.Background()))
}

func TestPollTopology_MalformedTextDegrades(t *testing.T) {
	f := newFixture(t)
	f.configs(t, `[{"name":"api","servers":["10.0.0.1:80"]}]`)
	f.status.EXPECT().FetchStatusText(gomock.Any()).Return("<html>502 Bad Gateway</html>", nil)

	require.NoError(t, f.engine.PollTopology(context.Background()))
	views := f.engine.ServerViews("api")
	require.Len(t, views, 1)
	assert.Equal(t, types.HealthUnknown, views[0].Health)
	assert.Equal(t, types.OriginStatic, views[0].Origin)
}

// --- window control ---

func TestSetTimeWindow_Truncates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := 0
	f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).DoAndReturn(func(context.Context) (types.Snapshot, error) {
		n++
		return sample(n, float64(n)), nil
	}).Times(40)
	for i := 0; i < 40; i++ {
		require.NoError(t, f.engine.PollMetrics(ctx))
	}

	require.NoError(t, f.engine.SetTimeWindow(ctx, 60*time.Second))
	length, capacity := f.engine.WindowInfo()
	assert.Equal(t, 20, capacity)
	assert.Equal(t, 20, length)
	assert.Equal(t, float64(40), f.engine.Points()[19].Counter(types.CounterRequestsTotal))

	assert.ErrorIs(t, f.engine.SetTimeWindow(ctx, time.Second), ErrTimeRange)
}

func TestSetSampleInterval_UpdatesCapacityAndDivisor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.SetSampleInterval(ctx, 5*time.Second))
	_, capacity := f.engine.WindowInfo()
	assert.Equal(t, 60, capacity)

	gomock.InOrder(
		f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(sample(0, 0), nil),
		f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(sample(1, 50), nil),
	)
	require.NoError(t, f.engine.PollMetrics(ctx))
	require.NoError(t, f.engine.PollMetrics(ctx))
	assert.Equal(t, float64(10), f.engine.DerivedSeries().Last(types.CounterRequestsTotal))

	assert.Error(t, f.engine.SetSampleInterval(ctx, 0))
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(sample(0, 1), nil)
	require.NoError(t, f.engine.PollMetrics(ctx))

	require.NoError(t, f.engine.Clear(ctx))
	assert.Empty(t, f.engine.Points())
	assert.Equal(t, 0, f.engine.DerivedSeries().Len())
}

func TestRestore_LoadsPersistedWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	data, err := json.Marshal([]types.Snapshot{sample(0, 5), sample(1, 8)})
	require.NoError(t, err)
	require.NoError(t, f.backend.Set(ctx, window.DefaultKey, string(data)))
	f.upstreams.EXPECT().Restore(gomock.Any()).Return(2)

	f.engine.Restore(ctx)
	assert.Equal(t, 2, f.win.Len())
}

func TestRestore_CorruptWindowStartsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.backend.Set(ctx, window.DefaultKey, "[{broken"))
	f.upstreams.EXPECT().Restore(gomock.Any()).Return(0)

	f.engine.Restore(ctx)
	assert.Equal(t, 0, f.win.Len())
}

// --- scheduling ---

func TestStart_PollsBothChannelsImmediately(t *testing.T) {
	f := newFixture(t)
	f.configs(t, `[]`)

	var metrics, topo atomic.Int64
	f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).DoAndReturn(func(context.Context) (types.Snapshot, error) {
		metrics.Add(1)
		return sample(0, 1), nil
	}).AnyTimes()
	f.status.EXPECT().FetchStatusText(gomock.Any()).DoAndReturn(func(context.Context) (string, error) {
		topo.Add(1)
		return "", nil
	}).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.engine.Start(ctx))
	defer f.engine.Stop()

	assert.Eventually(t, func() bool { return metrics.Load() >= 1 && topo.Load() >= 1 },
		2*time.Second, 5*time.Millisecond)

	sched := f.engine.Scheduler()
	require.NotNil(t, sched)
	assert.True(t, sched.Metrics.Running())
	assert.Equal(t, 3*time.Second, sched.Metrics.Interval())

	require.NoError(t, f.engine.SetTopologyInterval(9*time.Second))
	assert.Equal(t, 9*time.Second, sched.Topology.Interval())

	f.engine.Stop()
	assert.False(t, sched.Metrics.Running())
	assert.False(t, sched.Topology.Running())
}
