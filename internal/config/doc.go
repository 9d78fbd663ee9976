// Package config loads and watches the restywatch configuration file.
//
// Top-level types:
//   - Config{Gateway, Poll, Storage, Server, Alerts, LogLevel}
//   - GatewayConfig: admin API base URL, metrics format (json|prometheus),
//     exposition metric names, auth (apikey|bearer|basic|none), tls, timeout
//   - PollConfig: sample_interval, time_range, topology_interval
//   - StorageConfig: backend (sqlite|memory), path
//   - ServerConfig: http/grpc ports, API auth, refresh rate limit
//   - AlertsConfig: threshold rules and webhook targets
//
// Load(path) reads the YAML file, applies defaults (3s sample interval, 5m
// time range, 5s topology interval, ports 8080/50051), then validates.
// Secrets are never stored in the file: *_env fields name the environment
// variables to read them from.
//
// Watch(ctx, path, onChange) uses fsnotify to reload on write and re-adds the
// watch after an atomic-save rename.
package config
