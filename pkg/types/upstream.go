package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// UpstreamConfig is one upstream definition as returned by the gateway admin API.
// Fields the console does not model are kept in Extra and written back unchanged.
type UpstreamConfig struct {
	Name        string
	Enable      *bool
	Servers     []ServerEntry
	HealthCheck *HealthCheck
	Extra       map[string]json.RawMessage
}

// Enabled reports whether the upstream is enabled. A missing flag means enabled.
func (u UpstreamConfig) Enabled() bool {
	return u.Enable == nil || *u.Enable
}

// Clone returns a deep copy of u.
func (u UpstreamConfig) Clone() UpstreamConfig {
	out := u
	if u.Enable != nil {
		v := *u.Enable
		out.Enable = &v
	}
	if u.Servers != nil {
		out.Servers = make([]ServerEntry, len(u.Servers))
		for i, s := range u.Servers {
			out.Servers[i] = s.Clone()
		}
	}
	if u.HealthCheck != nil {
		hc := u.HealthCheck.Clone()
		out.HealthCheck = &hc
	}
	out.Extra = cloneRaw(u.Extra)
	return out
}

// IndexOf returns the index of the server whose canonical address equals
// address, or -1.
func (u UpstreamConfig) IndexOf(address string) int {
	want := CanonicalAddress(address)
	for i, s := range u.Servers {
		if s.Address() == want {
			return i
		}
	}
	return -1
}

var upstreamKnown = []string{"name", "enable", "servers", "health_check"}

func (u *UpstreamConfig) UnmarshalJSON(data []byte) error {
	fields, extra, err := splitFields(data, upstreamKnown)
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	*u = UpstreamConfig{Extra: extra}
	if raw, ok := fields["name"]; ok {
		if err := json.Unmarshal(raw, &u.Name); err != nil {
			return fmt.Errorf("upstream: name: %w", err)
		}
	}
	if raw, ok := fields["enable"]; ok && !isNull(raw) {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("upstream %q: enable: %w", u.Name, err)
		}
		u.Enable = &b
	}
	if raw, ok := fields["servers"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &u.Servers); err != nil {
			return fmt.Errorf("upstream %q: servers: %w", u.Name, err)
		}
		if u.Servers == nil {
			u.Servers = []ServerEntry{}
		}
	}
	if raw, ok := fields["health_check"]; ok && !isNull(raw) {
		var hc HealthCheck
		if err := json.Unmarshal(raw, &hc); err != nil {
			return fmt.Errorf("upstream %q: health_check: %w", u.Name, err)
		}
		u.HealthCheck = &hc
	}
	return nil
}

func (u UpstreamConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Extra)+4)
	for k, v := range u.Extra {
		out[k] = v
	}
	out["name"] = u.Name
	if u.Enable != nil {
		out["enable"] = *u.Enable
	}
	if u.Servers != nil {
		out["servers"] = u.Servers
	}
	if u.HealthCheck != nil {
		out["health_check"] = u.HealthCheck
	}
	return json.Marshal(out)
}

// ServerEntry is one element of UpstreamConfig.Servers. The admin API accepts
// a bare "host:port" string or an object keyed by server, host/port, or address.
type ServerEntry struct {
	// Raw is set when the entry is a bare string.
	Raw string

	Server string
	Host   string
	Port   string
	Addr   string
	Weight int
	Enable *bool
	Extra  map[string]json.RawMessage
}

// Address returns the canonical host:port of the entry.
func (s ServerEntry) Address() string {
	switch {
	case s.Raw != "":
		return CanonicalAddress(s.Raw)
	case s.Server != "":
		return CanonicalAddress(s.Server)
	case s.Host != "":
		return JoinAddress(s.Host, s.Port)
	default:
		return CanonicalAddress(s.Addr)
	}
}

// Enabled reports whether the entry is enabled. A missing flag means enabled.
func (s ServerEntry) Enabled() bool {
	return s.Enable == nil || *s.Enable
}

// SetEnable sets the enable flag, converting a bare string entry to its
// object form {server, enable}.
func (s *ServerEntry) SetEnable(v bool) {
	if s.Raw != "" {
		s.Server = s.Raw
		s.Raw = ""
	}
	s.Enable = &v
}

// Clone returns a deep copy of s.
func (s ServerEntry) Clone() ServerEntry {
	out := s
	if s.Enable != nil {
		v := *s.Enable
		out.Enable = &v
	}
	out.Extra = cloneRaw(s.Extra)
	return out
}

var serverKnown = []string{"server", "host", "port", "address", "weight", "enable"}

func (s *ServerEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*s = ServerEntry{}
		return json.Unmarshal(data, &s.Raw)
	}

	fields, extra, err := splitFields(data, serverKnown)
	if err != nil {
		return fmt.Errorf("server entry: %w", err)
	}
	*s = ServerEntry{Extra: extra}

	for key, dst := range map[string]*string{"server": &s.Server, "host": &s.Host, "address": &s.Addr} {
		if raw, ok := fields[key]; ok && !isNull(raw) {
			if err := json.Unmarshal(raw, dst); err != nil {
				return fmt.Errorf("server entry: %s: %w", key, err)
			}
		}
	}
	if raw, ok := fields["port"]; ok && !isNull(raw) {
		s.Port = scalarString(raw)
	}
	if raw, ok := fields["weight"]; ok && !isNull(raw) {
		w, err := strconv.Atoi(scalarString(raw))
		if err != nil {
			return fmt.Errorf("server entry: weight: %w", err)
		}
		s.Weight = w
	}
	if raw, ok := fields["enable"]; ok && !isNull(raw) {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("server entry: enable: %w", err)
		}
		s.Enable = &b
	}
	return nil
}

func (s ServerEntry) MarshalJSON() ([]byte, error) {
	if s.Raw != "" {
		return json.Marshal(s.Raw)
	}
	out := make(map[string]any, len(s.Extra)+4)
	for k, v := range s.Extra {
		out[k] = v
	}
	if s.Server != "" {
		out["server"] = s.Server
	}
	if s.Host != "" {
		out["host"] = s.Host
	}
	if s.Port != "" {
		if n, err := strconv.Atoi(s.Port); err == nil {
			out["port"] = n
		} else {
			out["port"] = s.Port
		}
	}
	if s.Addr != "" {
		out["address"] = s.Addr
	}
	if s.Weight > 0 {
		out["weight"] = s.Weight
	}
	if s.Enable != nil {
		out["enable"] = *s.Enable
	}
	return json.Marshal(out)
}

// HealthCheck is an upstream's active health-check policy. Durations are
// milliseconds, as the gateway expects.
type HealthCheck struct {
	Type          string `json:"type,omitempty"`
	HTTPReq       string `json:"http_req,omitempty"`
	Port          int    `json:"port,omitempty"`
	Interval      int    `json:"interval,omitempty"`
	Timeout       int    `json:"timeout,omitempty"`
	Fall          int    `json:"fall,omitempty"`
	Rise          int    `json:"rise,omitempty"`
	ValidStatuses []int  `json:"valid_statuses,omitempty"`
	Concurrency   int    `json:"concurrency,omitempty"`
	SSLVerify     *bool  `json:"ssl_verify,omitempty"`
	Host          string `json:"host,omitempty"`
}

// Clone returns a deep copy of h.
func (h HealthCheck) Clone() HealthCheck {
	out := h
	if h.ValidStatuses != nil {
		out.ValidStatuses = append([]int(nil), h.ValidStatuses...)
	}
	if h.SSLVerify != nil {
		v := *h.SSLVerify
		out.SSLVerify = &v
	}
	return out
}

// --- json helpers ------------------------------------------------------------

// splitFields decodes a JSON object and separates the known keys from the rest.
func splitFields(data []byte, known []string) (fields, extra map[string]json.RawMessage, err error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, nil, err
	}
	fields = make(map[string]json.RawMessage, len(known))
	for _, k := range known {
		if v, ok := all[k]; ok {
			fields[k] = v
			delete(all, k)
		}
	}
	if len(all) > 0 {
		extra = all
	}
	return fields, extra, nil
}

// scalarString renders a JSON string or number as a plain string.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func cloneRaw(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
