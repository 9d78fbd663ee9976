package types

import "time"

// Counter and gauge names carried in Snapshot.Counters.
const (
	CounterRequestsTotal     = "requests_total"
	CounterRequestsSuccess   = "requests_success"
	CounterBytesRead         = "bytes_read"
	CounterBytesWritten      = "bytes_written"
	CounterResponseTimeTotal = "response_time_total"
	GaugeConnectionsActive   = "connections_active"
)

// RateCounters lists the monotonic counters that are turned into per-second rates,
// in display order.
var RateCounters = []string{
	CounterRequestsTotal,
	CounterRequestsSuccess,
	CounterBytesRead,
	CounterBytesWritten,
}

// Gauges lists fields that are reported as-is rather than differentiated.
var Gauges = []string{GaugeConnectionsActive}

// Snapshot is one counter sample. Counters are raw totals, not rates.
type Snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Counters  map[string]float64 `json:"counters"`

	// BootTime is the gateway start time in unix seconds, 0 when unknown.
	BootTime int64 `json:"boot_time,omitempty"`
}

// Counter returns the named counter, or 0 when absent.
func (s Snapshot) Counter(name string) float64 {
	return s.Counters[name]
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Counters = make(map[string]float64, len(s.Counters))
	for k, v := range s.Counters {
		out.Counters[k] = v
	}
	return out
}
