// Package alerts evaluates threshold rules after every poll and delivers
// fire and resolve notifications to Slack, Teams or generic HTTP webhooks.
//
// Gateway-wide fields (request_rate, success_ratio, bytes_read_rate,
// bytes_written_rate, connections_active, avg_response_ms) are read from the
// latest rates summary. Server fields (servers_down, servers_unknown) are
// counted per upstream, so one rule can fire once for each upstream.
package alerts
