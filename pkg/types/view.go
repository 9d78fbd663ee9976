package types

import "strings"

// Origin says where a ServerView came from.
type Origin string

const (
	// OriginStatic views are backed by a ServerEntry in the upstream config.
	OriginStatic Origin = "STATIC"
	// OriginDynamic views exist only because the status feed reports them.
	OriginDynamic Origin = "DYNAMIC"
)

// HealthState is the display-level health of a server.
type HealthState string

const (
	HealthUp      HealthState = "UP"
	HealthDown    HealthState = "DOWN"
	HealthUnknown HealthState = "UNKNOWN"
)

// HealthFromStatus maps an opaque status-feed word to a HealthState.
// Words other than up/down (any case) map to HealthUnknown.
func HealthFromStatus(word string) HealthState {
	switch strings.ToUpper(strings.TrimSpace(word)) {
	case "UP":
		return HealthUp
	case "DOWN":
		return HealthDown
	default:
		return HealthUnknown
	}
}

// ServerView is the reconciled, display-level entry for one upstream server.
type ServerView struct {
	Address string      `json:"address"`
	Weight  int         `json:"weight,omitempty"`
	Enabled bool        `json:"enabled"`
	Origin  Origin      `json:"origin"`
	Health  HealthState `json:"health"`

	// RawStatus is the status word exactly as the feed reported it.
	RawStatus string `json:"raw_status,omitempty"`

	// Section is "primary" or "backup" when the feed reported the peer.
	Section string `json:"section,omitempty"`
}
