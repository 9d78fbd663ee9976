package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/restypanel/restywatch/internal/alerts"
	"github.com/restypanel/restywatch/internal/config"
	"github.com/restypanel/restywatch/internal/gateway"
	"github.com/restypanel/restywatch/internal/kv"
	"github.com/restypanel/restywatch/internal/monitor"
	"github.com/restypanel/restywatch/internal/scheduler"
	"github.com/restypanel/restywatch/internal/topology"
	"github.com/restypanel/restywatch/internal/upstreams"
	"github.com/restypanel/restywatch/internal/window"
	"github.com/restypanel/restywatch/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	h         *Handler
	engine    *monitor.Engine
	snapshots *monitor.MockSnapshotSource
	status    *monitor.MockStatusSource
	gw        *upstreams.MockAPI
	topo      *topology.Store
	alerts    *alerts.Engine
}

func newFixture(t *testing.T, rules ...config.AlertRule) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		snapshots: monitor.NewMockSnapshotSource(ctrl),
		status:    monitor.NewMockStatusSource(ctrl),
		gw:        upstreams.NewMockAPI(ctrl),
		topo:      topology.NewStore(),
		alerts:    alerts.New(config.AlertsConfig{Rules: rules}),
	}
	mgr := upstreams.New(f.gw, f.topo, kv.NewMemory())
	eng, err := monitor.New(monitor.Options{
		Snapshots:        f.snapshots,
		Status:           f.status,
		Upstreams:        mgr,
		Window:           window.New(kv.NewMemory(), window.MaxPoints(5*time.Minute, 3*time.Second)),
		Topology:         f.topo,
		SampleInterval:   3 * time.Second,
		TimeRange:        5 * time.Minute,
		TopologyInterval: 5 * time.Second,
	})
	require.NoError(t, err)
	f.engine = eng
	f.h = New(Options{Engine: eng, Upstreams: mgr, Alerts: f.alerts, RefreshRate: 1, RefreshBurst: 2})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func sample(n int, requests, success float64) types.Snapshot {
	return types.Snapshot{
		Timestamp: baseTime.Add(time.Duration(n) * 3 * time.Second),
		Counters: map[string]float64{
			types.CounterRequestsTotal:   requests,
			types.CounterRequestsSuccess: success,
			types.GaugeConnectionsActive: 7,
		},
	}
}

// seedMetrics polls the given samples into the window.
func (f *fixture) seedMetrics(t *testing.T, snaps ...types.Snapshot) {
	t.Helper()
	for _, s := range snaps {
		f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(s, nil)
		require.NoError(t, f.engine.PollMetrics(context.Background()))
	}
}

const statusPage = `Upstream api
    Primary Peers
        10.0.0.1:80 up
        10.0.0.2:80 down
    Backup Peers
Upstream web (NO checkers)
    Primary Peers
        10.0.1.1:80 up
`

// seedTopology runs one topology poll with the given configs.
func (f *fixture) seedTopology(t *testing.T, cfgJSON string) {
	t.Helper()
	var cfgs []types.UpstreamConfig
	require.NoError(t, json.Unmarshal([]byte(cfgJSON), &cfgs))
	f.gw.EXPECT().FetchUpstreams(gomock.Any()).Return(cfgs, nil)
	f.status.EXPECT().FetchStatusText(gomock.Any()).Return(statusPage, nil)
	require.NoError(t, f.engine.PollTopology(context.Background()))
}

const twoUpstreams = `[
	{"name":"api","servers":["10.0.0.1:80",{"server":"10.0.0.2:80","weight":5}]},
	{"name":"web","enable":false,"servers":[{"host":"10.0.1.1","port":80}]}
]`

// --- monitoring ---

func TestHealth_BeforeAnyPoll(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "unknown", resp.State)
	assert.Equal(t, 3.0, resp.Metrics.IntervalSeconds)
	assert.Equal(t, 5.0, resp.Topology.IntervalSeconds)
	assert.Equal(t, 100, resp.Capacity)
}

func TestHealth_Degraded(t *testing.T) {
	f := newFixture(t)
	f.seedMetrics(t, sample(0, 100, 100))
	f.gw.EXPECT().FetchUpstreams(gomock.Any()).Return(nil, &gateway.TransportError{Op: "fetch upstreams", Err: errors.New("refused")})
	assert.Error(t, f.engine.PollTopology(context.Background()))

	var resp HealthResponse
	decodeBody(t, f.do(t, http.MethodGet, "/api/v1/health", ""), &resp)
	assert.Equal(t, "degraded", resp.State)
	assert.True(t, resp.Metrics.OK)
	assert.False(t, resp.Topology.OK)
	assert.Contains(t, resp.Topology.Error, "refused")
	assert.Equal(t, 1, resp.Points)
}

func TestSeriesAndSummary(t *testing.T) {
	f := newFixture(t)
	f.seedMetrics(t, sample(0, 1000, 990), sample(1, 1030, 1017))

	var series struct {
		Labels []string             `json:"labels"`
		Rates  map[string][]float64 `json:"rates"`
	}
	decodeBody(t, f.do(t, http.MethodGet, "/api/v1/series", ""), &series)
	assert.Len(t, series.Labels, 2)
	assert.Equal(t, []float64{0, 10}, series.Rates[types.CounterRequestsTotal])

	var sum struct {
		RequestRate       float64 `json:"request_rate"`
		SuccessPct        float64 `json:"success_pct"`
		ConnectionsActive float64 `json:"connections_active"`
	}
	decodeBody(t, f.do(t, http.MethodGet, "/api/v1/summary", ""), &sum)
	assert.Equal(t, 10.0, sum.RequestRate)
	assert.Equal(t, 90.0, sum.SuccessPct)
	assert.Equal(t, 7.0, sum.ConnectionsActive)
}

func TestWindow_PutGetDelete(t *testing.T) {
	f := newFixture(t)
	f.seedMetrics(t, sample(0, 1, 1), sample(1, 2, 2), sample(2, 3, 3))

	rec := f.do(t, http.MethodPut, "/api/v1/window", `{"time_range_seconds":6}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var win WindowResponse
	decodeBody(t, rec, &win)
	assert.Equal(t, 6.0, win.TimeRangeSeconds)
	assert.Equal(t, 2, win.Capacity)
	assert.Equal(t, 2, win.Points)

	decodeBody(t, f.do(t, http.MethodGet, "/api/v1/window?raw=true", ""), &win)
	require.Len(t, win.Raw, 2)
	assert.Equal(t, 2.0, win.Raw[0].Counter(types.CounterRequestsTotal))

	// Shorter than the sample interval.
	rec = f.do(t, http.MethodPut, "/api/v1/window", `{"time_range_seconds":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/window", `{"time_range_seconds":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/window", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	n, _ := f.engine.WindowInfo()
	assert.Equal(t, 0, n)
}

func TestRefresh_PollsAndThrottles(t *testing.T) {
	f := newFixture(t)
	f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(sample(0, 5, 5), nil).Times(2)

	rec := f.do(t, http.MethodPost, "/api/v1/refresh", `{"channel":"metrics"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp RefreshResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, scheduler.ChannelMetrics, resp.Results[0].Channel)
	assert.True(t, resp.Results[0].OK)

	rec = f.do(t, http.MethodPost, "/api/v1/refresh", `{"channel":"metrics"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Burst of 2 is spent.
	rec = f.do(t, http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRefresh_TransportErrorIs502(t *testing.T) {
	f := newFixture(t)
	f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).
		Return(types.Snapshot{}, &gateway.TransportError{Op: "fetch snapshot", Err: errors.New("timeout")})

	rec := f.do(t, http.MethodPost, "/api/v1/refresh", `{"channel":"metrics"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/refresh", `{"channel":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduler_Interval(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/scheduler/topology", `{"interval_seconds":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cs ChannelStatus
	decodeBody(t, rec, &cs)
	assert.Equal(t, 10.0, cs.IntervalSeconds)
	assert.False(t, cs.Running)

	rec = f.do(t, http.MethodPut, "/api/v1/scheduler/metrics", `{"interval_seconds":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/scheduler/metrics", `{"running":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/scheduler/other", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduler_StopAndResume(t *testing.T) {
	f := newFixture(t)
	f.snapshots.EXPECT().FetchSnapshot(gomock.Any()).Return(sample(0, 1, 1), nil).AnyTimes()
	f.gw.EXPECT().FetchUpstreams(gomock.Any()).Return(nil, nil).AnyTimes()
	f.status.EXPECT().FetchStatusText(gomock.Any()).Return("", nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.engine.Start(ctx))
	defer func() {
		f.engine.Stop()
		require.NoError(t, f.engine.Wait(ctx))
	}()

	var cs ChannelStatus
	rec := f.do(t, http.MethodPut, "/api/v1/scheduler/metrics", `{"running":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &cs)
	assert.False(t, cs.Running)

	rec = f.do(t, http.MethodPut, "/api/v1/scheduler/metrics", `{"running":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &cs)
	assert.True(t, cs.Running)
}

func TestAlerts_Listed(t *testing.T) {
	f := newFixture(t, config.AlertRule{Name: "quiet", Condition: "request_rate < 1"})
	f.seedMetrics(t, sample(0, 1, 1))
	f.alerts.Evaluate(alerts.Collect(f.engine))

	var got []alerts.Alert
	decodeBody(t, f.do(t, http.MethodGet, "/api/v1/alerts", ""), &got)
	require.Len(t, got, 1)
	assert.Equal(t, "quiet", got[0].RuleName)
	assert.Equal(t, alerts.StateFiring, got[0].State)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)

	rec = f.do(t, http.MethodPatch, "/api/v1/window", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "method not allowed")

	rec = f.do(t, http.MethodPost, "/api/v1/upstreams/api/enable", `{"enable":true}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// --- stream payloads ---

func TestState_And_TickPayload(t *testing.T) {
	f := newFixture(t)
	f.seedTopology(t, twoUpstreams)

	st := f.h.State()
	assert.Len(t, st.Upstreams, 2)
	assert.NotEmpty(t, st.GeneratedAt)
	assert.NotNil(t, st.Alerts)

	tick, _ := f.engine.LastTick(scheduler.ChannelTopology)
	event, data := f.h.TickPayload(tick)
	assert.Equal(t, "topology", event)
	te, ok := data.(TopologyEvent)
	require.True(t, ok)
	assert.True(t, te.Tick.OK)
	assert.Len(t, te.Upstreams, 2)

	event, _ = f.h.TickPayload(monitor.Tick{Channel: scheduler.ChannelMetrics})
	assert.Equal(t, "series", event)

	event, data = f.h.TickPayload(monitor.Tick{Channel: "x"})
	assert.Empty(t, event)
	assert.Nil(t, data)
}
