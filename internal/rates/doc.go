// Package rates turns the sliding window of raw counter snapshots into the
// per-second series the dashboard charts.
//
// rates.go provides Derive, a pure function recomputed from the full window
// on every poll: rate[i] = max(0, c[i]-c[i-1]) / sampleInterval, rate[0] = 0.
// A counter that goes backwards (gateway restart) yields 0 for that interval.
//
// summary.go derives the headline numbers shown next to the charts: average
// response time, success percentage, gateway uptime, and human-readable bytes.
package rates
