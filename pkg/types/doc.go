// Package types defines the value types shared across restywatch packages.
//
//   - Snapshot: one point-in-time counter sample from the gateway
//   - UpstreamConfig, ServerEntry, HealthCheck: the declarative upstream
//     configuration as the gateway's admin API returns it, with unknown JSON
//     fields preserved on round trip
//   - ServerView: the reconciled, display-level view of one upstream server
//
// CanonicalAddress is the single host:port normalization used everywhere two
// addresses are compared.
package types
