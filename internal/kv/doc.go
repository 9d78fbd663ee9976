// Package kv provides the small durable key/value store restywatch uses to
// survive restarts: the sliding window and the last server-confirmed upstream
// configs are each stored as one JSON value under a fixed key.
//
// Two backends implement Store:
//   - SQLite: a single settings table in a WAL-mode database file
//   - Memory: a mutex-guarded map, used when storage.backend is "memory" and in tests
package kv
