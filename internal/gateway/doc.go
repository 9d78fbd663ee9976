// Package gateway is the HTTP client for the gateway admin API.
//
// Every response is wrapped in an envelope {code, message, data}; a code of
// 200 (or an absent code on a 2xx reply) is success. Network failures are
// returned as *TransportError so pollers can skip a tick and keep the previous
// state; rejected calls are returned as *APIError.
//
// Counter snapshots come either from the JSON status endpoint or, when
// metrics_format is prometheus, from a text exposition parsed with expfmt.
package gateway
