// Package window implements the bounded sliding window of raw counter
// snapshots that feeds the rate charts.
//
// The window holds at most MaxPoints(timeRange, sampleInterval) snapshots in
// chronological order and evicts from the head on overflow. Every mutation is
// written through to a kv.Store as one JSON array; persistence failures are
// logged and never stop the window from working in memory.
package window
