package upstreams

import (
	"strings"

	"github.com/restypanel/restywatch/pkg/types"
)

// Values written when a health-check field is left empty.
const (
	DefaultCheckType        = "http"
	DefaultCheckRequest     = "GET /status HTTP/1.0\r\nHost: foo.com\r\n\r\n"
	DefaultCheckInterval    = 2000
	DefaultCheckTimeout     = 1000
	DefaultCheckFall        = 3
	DefaultCheckRise        = 2
	DefaultCheckConcurrency = 10
)

// DefaultValidStatuses is written when no valid status is given.
var DefaultValidStatuses = []int{200, 302}

// HealthCheckForm is an editable health-check policy. Nil numbers fall back
// to the Default* values when the policy is saved.
type HealthCheckForm struct {
	Type          string `json:"type"`
	HTTPReq       string `json:"http_req"`
	Port          *int   `json:"port,omitempty"`
	Interval      *int   `json:"interval,omitempty"`
	Timeout       *int   `json:"timeout,omitempty"`
	Fall          *int   `json:"fall,omitempty"`
	Rise          *int   `json:"rise,omitempty"`
	ValidStatuses []int  `json:"valid_statuses,omitempty"`
	Concurrency   *int   `json:"concurrency,omitempty"`
	SSLVerify     bool   `json:"ssl_verify"`
	Host          string `json:"host,omitempty"`
}

// DefaultHealthCheckForm prefills the editing form from an existing policy,
// using the editing defaults (6000/3000 ms, fall 1, rise 1) for unset fields.
func DefaultHealthCheckForm(hc *types.HealthCheck) HealthCheckForm {
	var cur types.HealthCheck
	if hc != nil {
		cur = *hc
	}
	f := HealthCheckForm{
		Type:          orString(cur.Type, DefaultCheckType),
		HTTPReq:       orString(cur.HTTPReq, DefaultCheckRequest),
		Interval:      intPtr(orInt(cur.Interval, 6000)),
		Timeout:       intPtr(orInt(cur.Timeout, 3000)),
		Fall:          intPtr(orInt(cur.Fall, 1)),
		Rise:          intPtr(orInt(cur.Rise, 1)),
		Concurrency:   intPtr(orInt(cur.Concurrency, DefaultCheckConcurrency)),
		ValidStatuses: append([]int(nil), DefaultValidStatuses...),
		Host:          cur.Host,
	}
	if cur.Port > 0 {
		f.Port = intPtr(cur.Port)
	}
	if len(cur.ValidStatuses) > 0 {
		f.ValidStatuses = append([]int(nil), cur.ValidStatuses...)
	}
	if cur.SSLVerify != nil {
		f.SSLVerify = *cur.SSLVerify
	}
	return f
}

// Build turns the form into the policy sent to the gateway. ssl_verify and
// host are only kept for https checks.
func (f HealthCheckForm) Build() types.HealthCheck {
	hc := types.HealthCheck{
		Type:        orString(strings.TrimSpace(f.Type), DefaultCheckType),
		HTTPReq:     orString(f.HTTPReq, DefaultCheckRequest),
		Interval:    deref(f.Interval, DefaultCheckInterval),
		Timeout:     deref(f.Timeout, DefaultCheckTimeout),
		Fall:        deref(f.Fall, DefaultCheckFall),
		Rise:        deref(f.Rise, DefaultCheckRise),
		Concurrency: deref(f.Concurrency, DefaultCheckConcurrency),
	}
	if f.Port != nil && *f.Port > 0 {
		hc.Port = *f.Port
	}
	hc.ValidStatuses = append([]int(nil), f.ValidStatuses...)
	if len(hc.ValidStatuses) == 0 {
		hc.ValidStatuses = append([]int(nil), DefaultValidStatuses...)
	}
	if hc.Type == "https" {
		v := f.SSLVerify
		hc.SSLVerify = &v
		hc.Host = strings.TrimSpace(f.Host)
	}
	return hc
}

func intPtr(v int) *int { return &v }

func deref(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
