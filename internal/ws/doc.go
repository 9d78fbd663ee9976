// Package ws streams engine updates to browser clients over WebSocket.
//
// Every connection first receives a "state" message with the full current
// state, then one message per poll tick:
//
//	{"event": "series",   "data": {...}}   after a metrics poll
//	{"event": "topology", "data": {...}}   after a topology poll
//
// Clients that fall behind by more than the send buffer are disconnected.
// The hub is mounted at /ws/stream.
package ws
