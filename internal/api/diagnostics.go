package api

import (
	"fmt"
	"sort"

	"github.com/restypanel/restywatch/internal/topology"
	"github.com/restypanel/restywatch/pkg/types"
)

// DiagnosticHint is one plain-language finding about an upstream. The UI
// shows Title as a chip and Detail on click.
type DiagnosticHint struct {
	// Key is a stable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from an upstream entry, critical first.
func computeDiagnostics(e *topology.Entry) []DiagnosticHint {
	var hints []DiagnosticHint

	if !e.Config.Enabled() {
		hints = append(hints, DiagnosticHint{
			Key:   "disabled",
			Level: "info",
			Title: "Upstream disabled",
			Detail: "This upstream is switched off in the gateway config, so no traffic is routed to it. " +
				"Enable it again to put its servers back in rotation.",
		})
	}

	static, dynamic, enabled, down, unknown := 0, 0, 0, 0, 0
	for _, v := range e.Views {
		if v.Origin == types.OriginDynamic {
			dynamic++
		} else {
			static++
		}
		if !v.Enabled {
			continue
		}
		enabled++
		switch v.Health {
		case types.HealthDown:
			down++
		case types.HealthUnknown:
			unknown++
		}
	}

	if static == 0 && dynamic == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "no_servers",
			Level: "warning",
			Title: "No servers",
			Detail: "The upstream has no servers in its config and the status page reports no peers for it. " +
				"Requests routed here will fail until a server is added.",
		})
	}

	if enabled == 0 && static+dynamic > 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "servers_disabled",
			Level: "warning",
			Title: "All servers disabled",
			Detail: "Every server in this upstream is disabled, so it has no capacity. " +
				"Enable at least one server to route traffic here.",
		})
	}

	if e.NoChecker {
		hints = append(hints, DiagnosticHint{
			Key:   "no_checker",
			Level: "warning",
			Title: "No health checker",
			Detail: "The gateway is not running an active health check for this upstream, " +
				"so every server shows as UNKNOWN. Configure a health_check policy to see real up/down state.",
		})
	}

	if down > 0 {
		v := float64(down)
		level, title := "warning", fmt.Sprintf("%d of %d servers down", down, enabled)
		detail := fmt.Sprintf(
			"The health checker marks %d of the %d enabled servers as DOWN. "+
				"Traffic is shifted to the remaining servers, which now carry the extra load. "+
				"Check that the down servers are running and answer the health-check request.",
			down, enabled)
		if down == enabled {
			level, title = "critical", "All servers down"
			detail = "Every enabled server in this upstream fails its health check. " +
				"Requests routed here have nowhere healthy to go. Check the backends and the health-check request itself."
		}
		hints = append(hints, DiagnosticHint{Key: "servers_down", Level: level, Title: title, Detail: detail, Value: &v})
	}

	if unknown > 0 && !e.NoChecker {
		v := float64(unknown)
		hints = append(hints, DiagnosticHint{
			Key:   "servers_unknown",
			Level: "info",
			Title: fmt.Sprintf("%d servers unchecked", unknown),
			Detail: "The status page does not report these servers yet. " +
				"This is normal right after a server is added and clears on the next health-check round.",
			Value: &v,
		})
	}

	if dynamic > 0 {
		v := float64(dynamic)
		hints = append(hints, DiagnosticHint{
			Key:   "dynamic_peers",
			Level: "info",
			Title: fmt.Sprintf("%d dynamic peers", dynamic),
			Detail: "The status page reports peers that are not in the upstream config, " +
				"usually added at runtime by service discovery. They cannot be edited here.",
			Value: &v,
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All servers up",
			Detail: "Every enabled server passes its health check.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}
