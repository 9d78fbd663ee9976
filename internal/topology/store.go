package topology

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/restypanel/restywatch/internal/statusfeed"
	"github.com/restypanel/restywatch/pkg/types"
)

// Entry is one upstream's confirmed config and its latest reconciled views.
type Entry struct {
	Config    types.UpstreamConfig
	Views     []types.ServerView
	NoChecker bool
	UpdatedAt time.Time
}

func (e *Entry) clone() *Entry {
	out := *e
	out.Config = e.Config.Clone()
	out.Views = append([]types.ServerView(nil), e.Views...)
	return &out
}

// Store is a thread-safe set of upstream entries keyed by name. Views are
// rebuilt from scratch whenever the config or the status feed changes.
type Store struct {
	mu     sync.RWMutex
	data   map[string]*Entry
	status statusfeed.Snapshot
	now    func() time.Time // injectable for deterministic tests
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*Entry),
		now:  time.Now,
	}
}

// SetConfigs replaces the whole config set. Upstreams missing from cfgs are
// dropped; the rest are reconciled against the last known status.
func (s *Store) SetConfigs(cfgs []types.UpstreamConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*Entry, len(cfgs))
	for _, c := range cfgs {
		if c.Name == "" {
			continue
		}
		next[c.Name] = s.build(c.Clone())
	}
	for name := range s.data {
		if _, ok := next[name]; !ok {
			slog.Debug("topology: upstream removed", "upstream", name)
		}
	}
	s.data = next
}

// Put stores or replaces one upstream config and reconciles it.
func (s *Store) Put(cfg types.UpstreamConfig) {
	if cfg.Name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cfg.Name] = s.build(cfg.Clone())
}

// Remove drops an upstream. It reports whether it existed.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[name]
	delete(s.data, name)
	return ok
}

// ApplyStatus records a new status snapshot and reconciles every upstream.
func (s *Store) ApplyStatus(status statusfeed.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	for name, e := range s.data {
		s.data[name] = s.build(e.Config)
	}
}

// build must be called with mu held.
func (s *Store) build(cfg types.UpstreamConfig) *Entry {
	return &Entry{
		Config:    cfg,
		Views:     Reconcile(cfg, s.status),
		NoChecker: s.status.NoChecker[cfg.Name],
		UpdatedAt: s.now(),
	}
}

// Get returns a copy of the entry for name.
func (s *Store) Get(name string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[name]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// Config returns a copy of the confirmed config for name.
func (s *Store) Config(name string) (types.UpstreamConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[name]
	if !ok {
		return types.UpstreamConfig{}, false
	}
	return e.Config.Clone(), true
}

// Views returns a copy of the reconciled views for name, or nil.
func (s *Store) Views(name string) []types.ServerView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[name]
	if !ok {
		return nil
	}
	return append([]types.ServerView(nil), e.Views...)
}

// Names returns the upstream names sorted alphabetically.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for name := range s.data {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// List returns copies of every entry sorted by upstream name.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Name < out[j].Config.Name })
	return out
}

// Configs returns copies of every config sorted by name.
func (s *Store) Configs() []types.UpstreamConfig {
	entries := s.List()
	out := make([]types.UpstreamConfig, len(entries))
	for i, e := range entries {
		out[i] = e.Config
	}
	return out
}

// Status returns the last applied status snapshot.
func (s *Store) Status() statusfeed.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Count returns the number of upstreams held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
