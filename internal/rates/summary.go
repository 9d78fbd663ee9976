package rates

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/restypanel/restywatch/pkg/types"
)

// Summary holds the headline figures for the latest poll.
type Summary struct {
	// AvgResponseMs is response_time_total / requests_total in milliseconds,
	// rounded to two decimals.
	AvgResponseMs float64 `json:"avg_response_ms"`

	// SuccessPct is the share of requests in the latest interval that
	// succeeded. 100 when the interval saw no requests.
	SuccessPct float64 `json:"success_pct"`

	RequestRate       float64 `json:"request_rate"`
	BytesReadRate     float64 `json:"bytes_read_rate"`
	BytesWrittenRate  float64 `json:"bytes_written_rate"`
	ConnectionsActive float64 `json:"connections_active"`

	TotalRequests float64 `json:"total_requests"`
	BytesRead     string  `json:"bytes_read"`
	BytesWritten  string  `json:"bytes_written"`

	Uptime        time.Duration `json:"-"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	UptimeText    string        `json:"uptime"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Summarize builds a Summary from the newest snapshot and the derived series.
func Summarize(latest types.Snapshot, s Series, now time.Time) Summary {
	total := latest.Counter(types.CounterRequestsTotal)
	out := Summary{
		AvgResponseMs:     AvgResponseMs(latest),
		SuccessPct:        100,
		RequestRate:       s.Last(types.CounterRequestsTotal),
		BytesReadRate:     s.Last(types.CounterBytesRead),
		BytesWrittenRate:  s.Last(types.CounterBytesWritten),
		ConnectionsActive: latest.Counter(types.GaugeConnectionsActive),
		TotalRequests:     total,
		BytesRead:         FormatBytes(latest.Counter(types.CounterBytesRead)),
		BytesWritten:      FormatBytes(latest.Counter(types.CounterBytesWritten)),
		UptimeText:        "Unknown",
		UpdatedAt:         latest.Timestamp,
	}

	if out.RequestRate > 0 {
		pct := s.Last(types.CounterRequestsSuccess) / out.RequestRate * 100
		out.SuccessPct = math.Min(100, round2(pct))
	}

	if latest.BootTime > 0 {
		up := now.Sub(time.Unix(latest.BootTime, 0))
		if up < 0 {
			up = 0
		}
		out.Uptime = up
		out.UptimeSeconds = int64(up / time.Second)
		out.UptimeText = FormatUptime(up)
	}
	return out
}

// AvgResponseMs returns the mean response time in milliseconds. A snapshot
// with no requests divides by 1.
func AvgResponseMs(s types.Snapshot) float64 {
	count := s.Counter(types.CounterRequestsTotal)
	if count == 0 {
		count = 1
	}
	return round2(s.Counter(types.CounterResponseTimeTotal) / count * 1000)
}

// FormatUptime renders d as "Xd Yh Zm", dropping leading zero units.
func FormatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	days := secs / 86400
	hours := (secs % 86400) / 3600
	mins := (secs % 3600) / 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

var byteUnits = []string{"B", "KB", "MB", "GB"}

// FormatBytes renders b with 1024-based units up to GB, two decimals at most.
func FormatBytes(b float64) string {
	if b <= 0 {
		return "0 B"
	}
	i := int(math.Floor(math.Log(b) / math.Log(1024)))
	if i < 0 {
		i = 0
	}
	if i >= len(byteUnits) {
		i = len(byteUnits) - 1
	}
	v := round2(b / math.Pow(1024, float64(i)))
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + byteUnits[i]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
