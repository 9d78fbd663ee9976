package api

import (
	"bytes"
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/restypanel/restywatch/internal/scheduler"
	"github.com/restypanel/restywatch/pkg/types"
)

// metrics serves GET /metrics in the Prometheus text format.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	for _, mf := range h.buildFamilies() {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			slog.Error("api: encode metric family", "family", mf.GetName(), "err", err)
			jsonErr(w, http.StatusInternalServerError, "encode metrics")
			return
		}
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}

func (h *Handler) buildFamilies() []*dto.MetricFamily {
	sum := h.engine.Summary()
	series := h.engine.DerivedSeries()
	points, capacity := h.engine.WindowInfo()

	perSec := family("restywatch_gateway_rate_per_second", "Per-second rate of a gateway counter over the last sample interval.", dto.MetricType_GAUGE)
	for _, c := range types.RateCounters {
		perSec.Metric = append(perSec.Metric, gauge(series.Last(c), "counter", c))
	}

	out := []*dto.MetricFamily{
		perSec,
		single("restywatch_gateway_connections_active", "Active client connections at the last sample.", sum.ConnectionsActive),
		single("restywatch_gateway_success_ratio_percent", "Share of requests that succeeded in the last sample interval.", sum.SuccessPct),
		single("restywatch_gateway_avg_response_ms", "Mean response time since gateway start.", sum.AvgResponseMs),
		single("restywatch_gateway_uptime_seconds", "Gateway uptime from its reported boot time.", float64(sum.UptimeSeconds)),
		single("restywatch_window_points", "Samples held in the sliding window.", float64(points)),
		single("restywatch_window_capacity", "Maximum samples the sliding window holds.", float64(capacity)),
	}

	polled := family("restywatch_poll_success", "1 if the last poll of the channel succeeded.", dto.MetricType_GAUGE)
	skipped := family("restywatch_poll_skipped_total", "Scheduled polls skipped because the previous one was still running.", dto.MetricType_COUNTER)
	sched := h.engine.Scheduler()
	for _, ch := range []string{scheduler.ChannelMetrics, scheduler.ChannelTopology} {
		if t, ok := h.engine.LastTick(ch); ok {
			polled.Metric = append(polled.Metric, gauge(boolValue(t.OK()), "channel", ch))
		}
		if sched != nil {
			if tm, err := sched.Timer(ch); err == nil {
				skipped.Metric = append(skipped.Metric, counter(float64(tm.Skipped()), "channel", ch))
			}
		}
	}
	out = appendNonEmpty(out, polled, skipped)

	enabled := family("restywatch_upstream_enabled", "1 if the upstream is enabled.", dto.MetricType_GAUGE)
	health := family("restywatch_upstream_server_health", "1 for the current health state of each upstream server.", dto.MetricType_GAUGE)
	for _, e := range h.engine.Upstreams() {
		enabled.Metric = append(enabled.Metric, gauge(boolValue(e.Config.Enabled()), "upstream", e.Config.Name))
		for _, v := range e.Views {
			health.Metric = append(health.Metric, gauge(1,
				"address", v.Address,
				"health", string(v.Health),
				"origin", string(v.Origin),
				"upstream", e.Config.Name,
			))
		}
	}
	out = appendNonEmpty(out, enabled, health)

	if h.alerts != nil {
		out = append(out, single("restywatch_alerts_firing", "Alerts currently firing.", float64(h.alerts.Firing())))
	}
	return out
}

// --- dto builders ---

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: typ.Enum(),
	}
}

func single(name, help string, v float64) *dto.MetricFamily {
	mf := family(name, help, dto.MetricType_GAUGE)
	mf.Metric = []*dto.Metric{gauge(v)}
	return mf
}

func gauge(v float64, labels ...string) *dto.Metric {
	return &dto.Metric{Label: labelPairs(labels), Gauge: &dto.Gauge{Value: proto.Float64(v)}}
}

func counter(v float64, labels ...string) *dto.Metric {
	return &dto.Metric{Label: labelPairs(labels), Counter: &dto.Counter{Value: proto.Float64(v)}}
}

// labelPairs turns name, value, name, value... into label pairs.
func labelPairs(kv []string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, &dto.LabelPair{Name: proto.String(kv[i]), Value: proto.String(kv[i+1])})
	}
	return out
}

func appendNonEmpty(out []*dto.MetricFamily, fams ...*dto.MetricFamily) []*dto.MetricFamily {
	for _, mf := range fams {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	return out
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
