package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/restypanel/restywatch/internal/alerts"
	"github.com/restypanel/restywatch/internal/gateway"
	"github.com/restypanel/restywatch/internal/monitor"
	"github.com/restypanel/restywatch/internal/rates"
	"github.com/restypanel/restywatch/internal/scheduler"
	"github.com/restypanel/restywatch/internal/topology"
	"github.com/restypanel/restywatch/internal/upstreams"
	"github.com/restypanel/restywatch/internal/window"
	"github.com/restypanel/restywatch/pkg/types"
)

// Engine is the monitor surface the API reads and drives.
type Engine interface {
	DerivedSeries() rates.Series
	Summary() rates.Summary
	Points() []types.Snapshot
	WindowInfo() (length, capacity int)
	Intervals() (sample, timeRange, topo time.Duration)
	SetTimeWindow(ctx context.Context, timeRange time.Duration) error
	SetSampleInterval(ctx context.Context, d time.Duration) error
	SetTopologyInterval(d time.Duration) error
	Clear(ctx context.Context) error
	PollMetrics(ctx context.Context) error
	PollTopology(ctx context.Context) error
	Upstreams() []*topology.Entry
	Upstream(name string) (*topology.Entry, bool)
	LastTick(channel string) (monitor.Tick, bool)
	Scheduler() *scheduler.Scheduler
}

// Upstreams is the edit surface, implemented by *upstreams.Manager.
type Upstreams interface {
	ShowConf(ctx context.Context) (string, error)
	ToggleUpstream(ctx context.Context, name string, enable bool) (types.UpstreamConfig, error)
	ToggleServer(ctx context.Context, name, address string, enable bool) (types.UpstreamConfig, error)
	AddServer(ctx context.Context, name, address string, weight int) (types.UpstreamConfig, error)
	DeleteServer(ctx context.Context, name, address string) (types.UpstreamConfig, error)
	SetHealthCheck(ctx context.Context, name string, form upstreams.HealthCheckForm) (types.UpstreamConfig, error)
	Save(ctx context.Context, original string, cfg types.UpstreamConfig) (types.UpstreamConfig, error)
	Delete(ctx context.Context, name string) error
}

// Alerts lists alerts, implemented by *alerts.Engine.
type Alerts interface {
	Active() []*alerts.Alert
	Firing() int
}

// Options wires a Handler. Alerts may be nil.
type Options struct {
	Engine    Engine
	Upstreams Upstreams
	Alerts    Alerts

	// RefreshRate (per second) and RefreshBurst throttle POST /refresh.
	RefreshRate  float64
	RefreshBurst int
}

// Handler serves /api/v1/* and /metrics.
type Handler struct {
	engine    Engine
	upstreams Upstreams
	alerts    Alerts
	refresh   *rate.Limiter
	router    *mux.Router
}

// New builds the Handler and registers every route.
func New(opts Options) *Handler {
	r, b := rate.Limit(opts.RefreshRate), opts.RefreshBurst
	if r <= 0 {
		r = 1
	}
	if b <= 0 {
		b = 1
	}
	h := &Handler{
		engine:    opts.Engine,
		upstreams: opts.Upstreams,
		alerts:    opts.Alerts,
		refresh:   rate.NewLimiter(r, b),
		router:    mux.NewRouter(),
	}
	h.router.Use(logRequests)
	h.router.HandleFunc("/metrics", h.metrics).Methods(http.MethodGet)

	// Full paths, no subrouter: method mismatches must reach MethodNotAllowedHandler.
	const v1 = "/api/v1"
	h.router.HandleFunc(v1+"/health", h.health).Methods(http.MethodGet)
	h.router.HandleFunc(v1+"/series", h.series).Methods(http.MethodGet)
	h.router.HandleFunc(v1+"/summary", h.summary).Methods(http.MethodGet)
	h.router.HandleFunc(v1+"/window", h.getWindow).Methods(http.MethodGet)
	h.router.HandleFunc(v1+"/window", h.putWindow).Methods(http.MethodPut)
	h.router.HandleFunc(v1+"/window", h.clearWindow).Methods(http.MethodDelete)
	h.router.HandleFunc(v1+"/refresh", h.postRefresh).Methods(http.MethodPost)
	h.router.HandleFunc(v1+"/alerts", h.listAlerts).Methods(http.MethodGet)
	h.router.HandleFunc(v1+"/scheduler/{channel}", h.putScheduler).Methods(http.MethodPut)

	// conf before {name} so it is not taken for an upstream.
	h.router.HandleFunc(v1+"/upstreams/conf", h.showConf).Methods(http.MethodGet)
	h.router.HandleFunc(v1+"/upstreams", h.listUpstreams).Methods(http.MethodGet)
	h.router.HandleFunc(v1+"/upstreams", h.createUpstream).Methods(http.MethodPost)
	h.router.HandleFunc(v1+"/upstreams/{name}", h.getUpstream).Methods(http.MethodGet)
	h.router.HandleFunc(v1+"/upstreams/{name}", h.updateUpstream).Methods(http.MethodPut)
	h.router.HandleFunc(v1+"/upstreams/{name}", h.deleteUpstream).Methods(http.MethodDelete)
	h.router.HandleFunc(v1+"/upstreams/{name}/enable", h.toggleUpstream).Methods(http.MethodPut)
	h.router.HandleFunc(v1+"/upstreams/{name}/health_check", h.setHealthCheck).Methods(http.MethodPut)
	h.router.HandleFunc(v1+"/upstreams/{name}/servers", h.addServer).Methods(http.MethodPost)
	h.router.HandleFunc(v1+"/upstreams/{name}/servers/{address}", h.deleteServer).Methods(http.MethodDelete)
	h.router.HandleFunc(v1+"/upstreams/{name}/servers/{address}/enable", h.toggleServer).Methods(http.MethodPut)

	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- monitoring routes ------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.buildHealth())
}

func (h *Handler) series(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.engine.DerivedSeries())
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.engine.Summary())
}

// getWindow returns GET /api/v1/window. ?raw=true includes the raw samples.
func (h *Handler) getWindow(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.buildWindow(r.URL.Query().Get("raw") == "true"))
}

// putWindow handles PUT /api/v1/window.
func (h *Handler) putWindow(w http.ResponseWriter, r *http.Request) {
	var req WindowRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TimeRangeSeconds <= 0 {
		jsonErr(w, http.StatusBadRequest, "time_range_seconds must be positive")
		return
	}
	d := time.Duration(req.TimeRangeSeconds * float64(time.Second))
	if err := applied(h.engine.SetTimeWindow(r.Context(), d)); err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, h.buildWindow(false))
}

// clearWindow handles DELETE /api/v1/window.
func (h *Handler) clearWindow(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Clear(r.Context()); err != nil {
		slog.Warn("api: cleared window not persisted", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// postRefresh handles POST /api/v1/refresh: a manual poll of one or both
// channels, throttled by the refresh limiter.
func (h *Handler) postRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	var channels []string
	switch req.Channel {
	case "":
		channels = []string{scheduler.ChannelMetrics, scheduler.ChannelTopology}
	case scheduler.ChannelMetrics, scheduler.ChannelTopology:
		channels = []string{req.Channel}
	default:
		jsonErr(w, http.StatusBadRequest, "unknown channel "+req.Channel)
		return
	}
	if !h.refresh.Allow() {
		w.Header().Set("Retry-After", "1")
		jsonErr(w, http.StatusTooManyRequests, "refresh rate exceeded")
		return
	}

	var (
		resp  RefreshResponse
		first error
	)
	for _, ch := range channels {
		var err error
		if ch == scheduler.ChannelMetrics {
			err = h.engine.PollMetrics(r.Context())
		} else {
			err = h.engine.PollTopology(r.Context())
		}
		if err != nil && first == nil {
			first = err
		}
		t, _ := h.engine.LastTick(ch)
		resp.Results = append(resp.Results, toTick(t))
	}
	jsonResp(w, statusFor(first, http.StatusOK), resp)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []*alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// putScheduler handles PUT /api/v1/scheduler/{channel}: change the interval,
// stop or resume one timer.
func (h *Handler) putScheduler(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	if channel != scheduler.ChannelMetrics && channel != scheduler.ChannelTopology {
		jsonErr(w, http.StatusNotFound, "unknown channel "+channel)
		return
	}
	var req SchedulerRequest
	if !decode(w, r, &req) {
		return
	}

	if req.IntervalSeconds != nil {
		d := time.Duration(*req.IntervalSeconds * float64(time.Second))
		var err error
		if channel == scheduler.ChannelMetrics {
			err = h.engine.SetSampleInterval(r.Context(), d)
		} else {
			err = h.engine.SetTopologyInterval(d)
		}
		if err := applied(err); err != nil {
			writeError(w, err)
			return
		}
	}

	if req.Running != nil {
		sched := h.engine.Scheduler()
		if sched == nil {
			jsonErr(w, http.StatusServiceUnavailable, "scheduler not started")
			return
		}
		tm, _ := sched.Timer(channel)
		switch {
		case *req.Running && !tm.Running():
			if err := tm.Start(tm.Interval()); err != nil {
				writeError(w, err)
				return
			}
			slog.Info("api: poll timer resumed", "channel", channel)
		case !*req.Running && tm.Running():
			tm.Stop()
			slog.Info("api: poll timer stopped", "channel", channel)
		}
	}
	jsonResp(w, http.StatusOK, h.channelStatus(channel))
}

// --- builders ---------------------------------------------------------------

func (h *Handler) buildHealth() HealthResponse {
	resp := HealthResponse{
		Metrics:  h.channelStatus(scheduler.ChannelMetrics),
		Topology: h.channelStatus(scheduler.ChannelTopology),
	}
	resp.Points, resp.Capacity = h.engine.WindowInfo()

	entries := h.engine.Upstreams()
	resp.UpstreamCount = len(entries)
	for _, e := range entries {
		up, down, unknown := countViews(e.Views)
		resp.ServersUp += up
		resp.ServersDown += down
		resp.ServersUnknown += unknown
	}
	if h.alerts != nil {
		resp.AlertCount = h.alerts.Firing()
	}
	resp.State = overallState(resp.Metrics, resp.Topology)
	return resp
}

// overallState: unknown before any poll, ok when both last polls succeeded,
// down when both failed, degraded otherwise.
func overallState(chs ...ChannelStatus) string {
	polled, failed := 0, 0
	for _, c := range chs {
		if c.LastPoll == "" {
			continue
		}
		polled++
		if !c.OK {
			failed++
		}
	}
	switch {
	case polled == 0:
		return "unknown"
	case failed == 0:
		return "ok"
	case failed == len(chs):
		return "down"
	default:
		return "degraded"
	}
}

func (h *Handler) channelStatus(channel string) ChannelStatus {
	cs := ChannelStatus{Channel: channel}
	sample, _, topo := h.engine.Intervals()
	if channel == scheduler.ChannelMetrics {
		cs.IntervalSeconds = sample.Seconds()
	} else {
		cs.IntervalSeconds = topo.Seconds()
	}
	if sched := h.engine.Scheduler(); sched != nil {
		if tm, err := sched.Timer(channel); err == nil {
			cs.Running = tm.Running()
			cs.Skipped = tm.Skipped()
		}
	}
	if t, ok := h.engine.LastTick(channel); ok {
		cs.LastPoll = rfc3339(t.At)
		cs.OK = t.OK()
		if t.Err != nil {
			cs.Error = t.Err.Error()
		}
	}
	return cs
}

func (h *Handler) buildWindow(raw bool) WindowResponse {
	sample, tr, topo := h.engine.Intervals()
	resp := WindowResponse{
		TimeRangeSeconds:        tr.Seconds(),
		SampleIntervalSeconds:   sample.Seconds(),
		TopologyIntervalSeconds: topo.Seconds(),
	}
	resp.Points, resp.Capacity = h.engine.WindowInfo()
	if raw {
		resp.Raw = h.engine.Points()
	}
	return resp
}

func toTick(t monitor.Tick) TickResponse {
	tr := TickResponse{
		Channel:    t.Channel,
		At:         rfc3339(t.At),
		DurationMs: float64(t.Duration) / float64(time.Millisecond),
		OK:         t.OK(),
	}
	if t.Err != nil {
		tr.Error = t.Err.Error()
	}
	return tr
}

func countViews(views []types.ServerView) (up, down, unknown int) {
	for _, v := range views {
		switch v.Health {
		case types.HealthUp:
			up++
		case types.HealthDown:
			down++
		default:
			unknown++
		}
	}
	return up, down, unknown
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// writeError maps err onto a status code and writes it as JSON.
func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err, http.StatusInternalServerError)
	if code >= 500 {
		slog.Warn("api: request failed", "status", code, "err", err)
	}
	jsonErr(w, code, err.Error())
}

// statusFor returns the status err maps to, or def for a nil error.
func statusFor(err error, def int) int {
	var (
		conflict *upstreams.ConflictError
		rejected *gateway.APIError
	)
	switch {
	case err == nil:
		return def
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, upstreams.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, upstreams.ErrInvalid),
		errors.Is(err, scheduler.ErrInterval),
		errors.Is(err, monitor.ErrTimeRange):
		return http.StatusBadRequest
	case gateway.IsTransport(err), errors.As(err, &rejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// applied drops a window persistence error: the change is live in memory.
func applied(err error) error {
	if errors.Is(err, window.ErrPersistence) {
		slog.Warn("api: change applied but not persisted", "err", err)
		return nil
	}
	return err
}

// decode reads a JSON body into v, writing 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusWriter records the status code for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if strings.HasPrefix(r.URL.Path, "/metrics") {
			return
		}
		slog.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
