// Package auth enforces the operator API key on the gRPC health listener and
// the REST API. Both share the server.auth block of the config.
package auth
