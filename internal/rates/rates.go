package rates

import (
	"time"

	"github.com/restypanel/restywatch/pkg/types"
)

// LabelLayout is the clock format used for chart labels.
const LabelLayout = "15:04:05"

// Series is the derived chart data for one window. Every slice has one entry
// per window point, in window order.
type Series struct {
	Labels []string    `json:"labels"`
	Times  []time.Time `json:"times"`

	// Rates maps each counter in types.RateCounters to its per-second rate.
	Rates map[string][]float64 `json:"rates"`

	// Gauges maps each field in types.Gauges to its raw value.
	Gauges map[string][]float64 `json:"gauges"`

	SampleIntervalSeconds float64 `json:"sample_interval_seconds"`
}

// Len returns the number of points in the series.
func (s Series) Len() int { return len(s.Labels) }

// Last returns the newest value for name from Rates or Gauges, or 0.
func (s Series) Last(name string) float64 {
	if v, ok := s.Rates[name]; ok && len(v) > 0 {
		return v[len(v)-1]
	}
	if v, ok := s.Gauges[name]; ok && len(v) > 0 {
		return v[len(v)-1]
	}
	return 0
}

// Derive computes the Series for points sampled every sampleInterval.
// The divisor is the configured interval, not the timestamp difference.
func Derive(points []types.Snapshot, sampleInterval time.Duration) Series {
	secs := sampleInterval.Seconds()
	if secs <= 0 {
		secs = 1
	}

	out := Series{
		Labels:                make([]string, len(points)),
		Times:                 make([]time.Time, len(points)),
		Rates:                 make(map[string][]float64, len(types.RateCounters)),
		Gauges:                make(map[string][]float64, len(types.Gauges)),
		SampleIntervalSeconds: secs,
	}
	for _, c := range types.RateCounters {
		out.Rates[c] = make([]float64, len(points))
	}
	for _, g := range types.Gauges {
		out.Gauges[g] = make([]float64, len(points))
	}

	for i, p := range points {
		out.Labels[i] = p.Timestamp.Format(LabelLayout)
		out.Times[i] = p.Timestamp
		for _, g := range types.Gauges {
			out.Gauges[g][i] = p.Counter(g)
		}
		if i == 0 {
			continue
		}
		prev := points[i-1]
		for _, c := range types.RateCounters {
			out.Rates[c][i] = deltaOf(p.Counter(c), prev.Counter(c)) / secs
		}
	}
	return out
}

// deltaOf returns the positive counter delta between current and previous.
// If current < previous (counter reset after restart), returns 0.
func deltaOf(current, previous float64) float64 {
	d := current - previous
	if d < 0 {
		return 0
	}
	return d
}
