// Package upstreams implements the edit operations on gateway upstream
// configs: enable/disable, server add/remove, health-check policy, and raw
// create/update/delete.
//
// Every mutation is applied to a copy of the last confirmed config, sent to
// the gateway, and the config the gateway returns becomes the new confirmed
// state. The locally submitted config is never trusted.
package upstreams
