package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/restypanel/restywatch/internal/config"
	"github.com/restypanel/restywatch/internal/rates"
	"github.com/restypanel/restywatch/pkg/types"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour

	// SourceGateway is the Source of alerts on gateway-wide fields.
	SourceGateway = "gateway"
)

// State of an alert.
type State string

const (
	StateFiring   State = "firing"
	StateResolved State = "resolved"
)

// Alert is one fire event, resolved in place when its condition clears.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Source     string     `json:"source"`
	Severity   string     `json:"severity"`
	Condition  string     `json:"condition"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      State      `json:"state"`
}

// Input is the state rules are evaluated against. A nil Summary skips the
// gateway-wide rules and a nil Upstreams skips the server rules; neither
// fires nor resolves anything.
type Input struct {
	Summary   *rates.Summary
	Upstreams map[string][]types.ServerView
}

type rule struct {
	cfg      config.AlertRule
	cond     condition
	cooldown time.Duration
	severity string
}

// Engine evaluates rules and delivers webhooks. Safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: rule name + ":" + source
	lastFire map[string]time.Time // for cooldown
	history  []*Alert             // resolved, oldest first

	wg sync.WaitGroup
}

// New builds an Engine from the alerts config. Rules whose condition does not
// parse are logged and skipped. An Engine with no rules is valid.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	for _, r := range cfg.Rules {
		cond, err := parseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: skipping rule", "rule", r.Name, "err", err)
			continue
		}
		cooldown := r.Cooldown
		if cooldown <= 0 {
			cooldown = defaultCooldown
		}
		sev := r.Severity
		if sev == "" {
			sev = "warning"
		}
		e.rules = append(e.rules, rule{cfg: r, cond: cond, cooldown: cooldown, severity: sev})
	}
	return e
}

// RuleCount returns the number of rules in effect.
func (e *Engine) RuleCount() int { return len(e.rules) }

// Evaluate tests every rule against in. Newly firing alerts and alerts whose
// condition cleared are delivered to the webhooks asynchronously.
func (e *Engine) Evaluate(in Input) {
	now := e.now()
	for _, r := range e.rules {
		values, ok := r.values(in)
		if !ok {
			continue
		}
		sources := make([]string, 0, len(values))
		for src := range values {
			sources = append(sources, src)
		}
		sort.Strings(sources)

		for _, src := range sources {
			v := values[src]
			if r.cond.holds(v) {
				e.fire(r, src, v, now)
			} else {
				e.resolve(r.cfg.Name+":"+src, now)
			}
		}
		// An upstream that went away cannot keep an alert open.
		for _, key := range e.orphans(r.cfg.Name, values) {
			e.resolve(key, now)
		}
	}
}

// values returns the field value per source, or ok=false when the input
// carries nothing to evaluate the rule against.
func (r rule) values(in Input) (map[string]float64, bool) {
	if !r.cond.perUpstream() {
		if in.Summary == nil {
			return nil, false
		}
		return map[string]float64{SourceGateway: summaryField(r.cond.field, *in.Summary)}, true
	}
	if in.Upstreams == nil {
		return nil, false
	}
	out := make(map[string]float64)
	for name, views := range in.Upstreams {
		if r.cfg.Upstream != "" && r.cfg.Upstream != name {
			continue
		}
		out[name] = countHealth(r.cond.field, views)
	}
	return out, true
}

func (e *Engine) fire(r rule, source string, value float64, now time.Time) {
	key := r.cfg.Name + ":" + source

	e.mu.Lock()
	if last, ok := e.lastFire[key]; ok && now.Sub(last) < r.cooldown {
		e.mu.Unlock()
		return
	}
	a := &Alert{
		ID:        uuid.NewString(),
		RuleName:  r.cfg.Name,
		Source:    source,
		Severity:  r.severity,
		Condition: r.cfg.Condition,
		Value:     value,
		Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)",
			r.severity, r.cfg.Name, source, r.cfg.Condition, value),
		FiredAt: now,
		State:   StateFiring,
	}
	e.active[key] = a
	e.lastFire[key] = now
	cp := *a
	e.mu.Unlock()

	slog.Warn("alerts: fired",
		"rule", r.cfg.Name,
		"source", source,
		"value", value,
		"severity", r.severity,
	)
	e.dispatch(&cp)
}

func (e *Engine) resolve(key string, now time.Time) {
	e.mu.Lock()
	a, ok := e.active[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	cp := *a
	e.mu.Unlock()

	slog.Info("alerts: resolved", "rule", a.RuleName, "source", a.Source)
	e.dispatch(&cp)
}

// orphans returns the active keys of ruleName whose source is not in values.
func (e *Engine) orphans(ruleName string, values map[string]float64) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for key, a := range e.active {
		if a.RuleName != ruleName {
			continue
		}
		if _, ok := values[a.Source]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine) dispatch(a *Alert) {
	if len(e.webhooks) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(a)
	}()
}

// Wait blocks until every pending webhook delivery has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// Active returns copies of the firing alerts plus those resolved within the
// last hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].FiredAt.After(out[j].FiredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Firing returns the number of alerts currently firing.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
