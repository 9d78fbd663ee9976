package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// QueryKey carries the API key on WebSocket upgrades, which browsers cannot
// send with custom headers.
const QueryKey = "api_key"

// Middleware wraps an http.Handler with the same API key check as the gRPC
// interceptor. Rejected requests get 401 and a JSON {"error": ...} body.
//
// Paths listed in open skip the check (liveness probes, /metrics scrapes).
func Middleware(mode, header, key string, open ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(open))
	for _, p := range open {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		if !enforced(mode, key) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] || valid(presented(r, header), key) {
				next.ServeHTTP(w, r)
				return
			}
			slog.Debug("auth: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
		})
	}
}

// presented returns the key from header, or from QueryKey on a WebSocket
// upgrade without the header.
func presented(r *http.Request, header string) string {
	if got := r.Header.Get(header); got != "" {
		return got
	}
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get(QueryKey)
	}
	return ""
}
