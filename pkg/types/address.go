package types

import (
	"net"
	"strconv"
	"strings"
)

// CanonicalAddress normalizes a server address to host:port form so that
// configuration entries and status-feed peers compare equal.
//
// The host is lowercased and IPv6 hosts are bracketed. The port is re-rendered
// without leading zeros. An address without a port is returned as the bare
// lowercased host: it never equals the same host with a port.
func CanonicalAddress(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return strings.ToLower(strings.Trim(s, "[]"))
	}
	return JoinAddress(host, port)
}

// JoinAddress builds a canonical address from a separate host and port.
// An empty port yields the bare host.
func JoinAddress(host, port string) string {
	host = strings.ToLower(strings.Trim(strings.TrimSpace(host), "[]"))
	port = strings.TrimSpace(port)
	if port == "" {
		return host
	}
	if n, err := strconv.ParseUint(port, 10, 16); err == nil {
		port = strconv.FormatUint(n, 10)
	}
	return net.JoinHostPort(host, port)
}
