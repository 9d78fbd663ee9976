package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/restypanel/restywatch/internal/rates"
	"github.com/restypanel/restywatch/pkg/types"
)

// Condition fields.
const (
	FieldRequestRate       = "request_rate"
	FieldSuccessRatio      = "success_ratio"
	FieldBytesReadRate     = "bytes_read_rate"
	FieldBytesWrittenRate  = "bytes_written_rate"
	FieldConnectionsActive = "connections_active"
	FieldAvgResponseMs     = "avg_response_ms"
	FieldServersDown       = "servers_down"
	FieldServersUnknown    = "servers_unknown"
)

// condition is a parsed "<field> <op> <value>" expression.
type condition struct {
	field     string
	op        string
	threshold float64
}

func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"<field> <op> <value>\"", s)
	}
	c := condition{field: parts[0], op: parts[1]}
	switch c.field {
	case FieldRequestRate, FieldSuccessRatio, FieldBytesReadRate, FieldBytesWrittenRate,
		FieldConnectionsActive, FieldAvgResponseMs, FieldServersDown, FieldServersUnknown:
	default:
		return condition{}, fmt.Errorf("condition %q: unknown field %q", s, c.field)
	}
	switch c.op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, c.op)
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: threshold: %w", s, err)
	}
	c.threshold = v
	return c, nil
}

// perUpstream reports whether the field is counted per upstream.
func (c condition) perUpstream() bool {
	return c.field == FieldServersDown || c.field == FieldServersUnknown
}

func (c condition) holds(v float64) bool {
	switch c.op {
	case ">":
		return v > c.threshold
	case ">=":
		return v >= c.threshold
	case "<":
		return v < c.threshold
	case "<=":
		return v <= c.threshold
	case "==":
		return v == c.threshold
	case "!=":
		return v != c.threshold
	}
	return false
}

// summaryField maps a gateway-wide field to its value in s.
func summaryField(field string, s rates.Summary) float64 {
	switch field {
	case FieldRequestRate:
		return s.RequestRate
	case FieldSuccessRatio:
		return s.SuccessPct
	case FieldBytesReadRate:
		return s.BytesReadRate
	case FieldBytesWrittenRate:
		return s.BytesWrittenRate
	case FieldConnectionsActive:
		return s.ConnectionsActive
	case FieldAvgResponseMs:
		return s.AvgResponseMs
	}
	return 0
}

// countHealth counts views in the health state the field names. Disabled
// servers are not counted.
func countHealth(field string, views []types.ServerView) float64 {
	want := types.HealthDown
	if field == FieldServersUnknown {
		want = types.HealthUnknown
	}
	n := 0
	for _, v := range views {
		if v.Enabled && v.Health == want {
			n++
		}
	}
	return float64(n)
}
