// Package api serves the operator REST API under /api/v1 and the Prometheus
// exposition at /metrics.
//
// Read endpoints report the derived rate series, the headline summary, the
// window state and the reconciled upstream topology with diagnostics. Write
// endpoints change the time window, trigger a manual poll, edit upstreams
// through the gateway and retune the poll timers. Every error body is
// {"error": "..."}; conflicts map to 409, unknown names to 404, rejected
// input to 400 and gateway failures to 502.
//
// The same package builds the payloads the WebSocket hub pushes, so the
// stream and the REST API always agree on shape.
package api
