package api

import (
	"time"

	"github.com/restypanel/restywatch/internal/alerts"
	"github.com/restypanel/restywatch/internal/rates"
	"github.com/restypanel/restywatch/internal/upstreams"
	"github.com/restypanel/restywatch/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is ok | degraded | down | unknown, from the last poll of each channel.
	State          string        `json:"state"`
	Metrics        ChannelStatus `json:"metrics"`
	Topology       ChannelStatus `json:"topology"`
	Points         int           `json:"points"`
	Capacity       int           `json:"capacity"`
	UpstreamCount  int           `json:"upstream_count"`
	ServersUp      int           `json:"servers_up"`
	ServersDown    int           `json:"servers_down"`
	ServersUnknown int           `json:"servers_unknown"`
	AlertCount     int           `json:"alert_count"`
}

// ChannelStatus describes one poll channel.
type ChannelStatus struct {
	Channel         string  `json:"channel"`
	Running         bool    `json:"running"`
	IntervalSeconds float64 `json:"interval_seconds"`
	Skipped         int64   `json:"skipped"`
	LastPoll        string  `json:"last_poll,omitempty"` // RFC3339
	OK              bool    `json:"ok"`
	Error           string  `json:"error,omitempty"`
}

// WindowResponse is the payload for GET /api/v1/window.
type WindowResponse struct {
	TimeRangeSeconds        float64          `json:"time_range_seconds"`
	SampleIntervalSeconds   float64          `json:"sample_interval_seconds"`
	TopologyIntervalSeconds float64          `json:"topology_interval_seconds"`
	Points                  int              `json:"points"`
	Capacity                int              `json:"capacity"`
	Raw                     []types.Snapshot `json:"raw,omitempty"`
}

// WindowRequest is the body of PUT /api/v1/window.
type WindowRequest struct {
	TimeRangeSeconds float64 `json:"time_range_seconds"`
}

// RefreshRequest is the optional body of POST /api/v1/refresh. An empty
// channel polls both.
type RefreshRequest struct {
	Channel string `json:"channel"`
}

// RefreshResponse reports each poll that ran.
type RefreshResponse struct {
	Results []TickResponse `json:"results"`
}

// SchedulerRequest is the body of PUT /api/v1/scheduler/{channel}.
type SchedulerRequest struct {
	IntervalSeconds *float64 `json:"interval_seconds,omitempty"`
	Running         *bool    `json:"running,omitempty"`
}

// TickResponse is one finished poll.
type TickResponse struct {
	Channel    string  `json:"channel"`
	At         string  `json:"at"` // RFC3339
	DurationMs float64 `json:"duration_ms"`
	OK         bool    `json:"ok"`
	Error      string  `json:"error,omitempty"`
}

// UpstreamResponse is one upstream in GET /api/v1/upstreams.
type UpstreamResponse struct {
	Name        string             `json:"name"`
	Enabled     bool               `json:"enabled"`
	NoChecker   bool               `json:"no_checker"`
	Up          int                `json:"up"`
	Down        int                `json:"down"`
	Unknown     int                `json:"unknown"`
	Servers     []types.ServerView `json:"servers"`
	HealthCheck *types.HealthCheck `json:"health_check,omitempty"`
	UpdatedAt   string             `json:"updated_at"` // RFC3339
}

// UpstreamDetail is the payload for GET /api/v1/upstreams/{name}.
type UpstreamDetail struct {
	UpstreamResponse
	Config          types.UpstreamConfig      `json:"config"`
	Diagnostics     []DiagnosticHint          `json:"diagnostics"`
	HealthCheckForm upstreams.HealthCheckForm `json:"health_check_form"`
}

// EnableRequest is the body of the enable toggles.
type EnableRequest struct {
	Enable *bool `json:"enable"`
}

// AddServerRequest is the body of POST /api/v1/upstreams/{name}/servers.
type AddServerRequest struct {
	Address string `json:"address"`
	Weight  int    `json:"weight,omitempty"`
}

// ConfResponse is the payload for GET /api/v1/upstreams/conf.
type ConfResponse struct {
	Content string `json:"content"`
}

// SeriesEvent is pushed on the stream after each metrics poll.
type SeriesEvent struct {
	Tick    TickResponse  `json:"tick"`
	Series  rates.Series  `json:"series"`
	Summary rates.Summary `json:"summary"`
}

// TopologyEvent is pushed on the stream after each topology poll.
type TopologyEvent struct {
	Tick      TickResponse       `json:"tick"`
	Upstreams []UpstreamResponse `json:"upstreams"`
}

// StateResponse is the full state, sent to new stream clients.
type StateResponse struct {
	Health      HealthResponse     `json:"health"`
	Series      rates.Series       `json:"series"`
	Summary     rates.Summary      `json:"summary"`
	Upstreams   []UpstreamResponse `json:"upstreams"`
	Alerts      []*alerts.Alert    `json:"alerts"`
	GeneratedAt string             `json:"generated_at"` // RFC3339
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func rfc3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
