package api

import (
	"time"

	"github.com/restypanel/restywatch/internal/alerts"
	"github.com/restypanel/restywatch/internal/monitor"
	"github.com/restypanel/restywatch/internal/scheduler"
	"github.com/restypanel/restywatch/internal/ws"
)

// State returns the full current state, the greeting for stream clients.
func (h *Handler) State() StateResponse {
	resp := StateResponse{
		Health:      h.buildHealth(),
		Series:      h.engine.DerivedSeries(),
		Summary:     h.engine.Summary(),
		Upstreams:   h.buildUpstreams(),
		Alerts:      []*alerts.Alert{},
		GeneratedAt: rfc3339(time.Now()),
	}
	if h.alerts != nil {
		resp.Alerts = h.alerts.Active()
	}
	return resp
}

// TickPayload builds the stream message for a finished poll. Unknown
// channels return an empty event.
func (h *Handler) TickPayload(t monitor.Tick) (event string, data interface{}) {
	switch t.Channel {
	case scheduler.ChannelMetrics:
		return ws.EventSeries, SeriesEvent{
			Tick:    toTick(t),
			Series:  h.engine.DerivedSeries(),
			Summary: h.engine.Summary(),
		}
	case scheduler.ChannelTopology:
		return ws.EventTopology, TopologyEvent{
			Tick:      toTick(t),
			Upstreams: h.buildUpstreams(),
		}
	}
	return "", nil
}
