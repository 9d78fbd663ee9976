// Package health exposes the standard grpc.health.v1 service for restywatch.
//
// Two services are reported besides the server-wide "" entry:
// restywatch.metrics and restywatch.topology. Each starts NOT_SERVING, turns
// SERVING after its first successful poll and drops back to NOT_SERVING when
// a poll fails to reach the gateway. Failures where the gateway answered
// (rejected call, malformed page) leave the status unchanged.
package health
