package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/restypanel/restywatch/internal/config"
	"github.com/restypanel/restywatch/pkg/types"
)

// statusFields maps the JSON status document onto snapshot counter names.
var statusFields = map[string]string{
	"request_all_count":     types.CounterRequestsTotal,
	"request_success_count": types.CounterRequestsSuccess,
	"traffic_read":          types.CounterBytesRead,
	"traffic_write":         types.CounterBytesWritten,
	"response_time_total":   types.CounterResponseTimeTotal,
	"connections_active":    types.GaugeConnectionsActive,
}

// FetchSnapshot reads one counter sample, timestamped at receipt.
func (c *Client) FetchSnapshot(ctx context.Context) (types.Snapshot, error) {
	if c.cfg.MetricsFormat == "prometheus" {
		return c.fetchExposition(ctx)
	}

	var doc map[string]json.RawMessage
	if err := c.call(ctx, "fetch status", http.MethodGet, c.cfg.EffectiveMetricsPath(), nil, &doc); err != nil {
		return types.Snapshot{}, err
	}
	snap := types.Snapshot{
		Timestamp: c.now().UTC(),
		Counters:  make(map[string]float64, len(statusFields)),
	}
	for field, name := range statusFields {
		if raw, ok := doc[field]; ok {
			snap.Counters[name] = number(raw)
		}
	}
	if raw, ok := doc["boot_time"]; ok {
		snap.BootTime = int64(number(raw))
	}
	return snap, nil
}

// number reads a JSON number or numeric string; anything else is 0.
func number(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		raw = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0
	}
	return f
}

func (c *Client) fetchExposition(ctx context.Context) (types.Snapshot, error) {
	const op = "fetch metrics"
	data, status, err := c.raw(ctx, op, http.MethodGet, c.cfg.EffectiveMetricsPath(), nil,
		string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err != nil {
		return types.Snapshot{}, err
	}
	if status != http.StatusOK {
		return types.Snapshot{}, &APIError{Op: op, Status: status, Message: http.StatusText(status)}
	}

	mfs, err := parseMetrics(bytes.NewReader(data))
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("gateway: %s: %w", op, err)
	}

	snap := types.Snapshot{
		Timestamp: c.now().UTC(),
		Counters:  make(map[string]float64, len(statusFields)),
	}
	for _, name := range append(append([]string{}, types.RateCounters...), types.CounterResponseTimeTotal, types.GaugeConnectionsActive) {
		family := c.cfg.MetricName(name)
		mf, ok := mfs[family]
		if !ok {
			slog.Debug("gateway: metric family missing", "counter", name, "family", family)
			continue
		}
		snap.Counters[name] = sumFamily(mf)
	}
	if mf, ok := mfs[c.cfg.MetricName(config.MetricBootTime)]; ok {
		snap.BootTime = int64(sumFamily(mf))
	}
	return snap, nil
}

// parseMetrics decodes a Prometheus text exposition into metric families.
// A partial result with a parse warning is still returned.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a family.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
