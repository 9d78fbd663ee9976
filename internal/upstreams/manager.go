package upstreams

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/restypanel/restywatch/internal/kv"
	"github.com/restypanel/restywatch/internal/topology"
	"github.com/restypanel/restywatch/pkg/types"
)

// CacheKey is the kv key the last confirmed configs are cached under.
const CacheKey = "upstreams"

//go:generate mockgen -source=manager.go -destination=mock_api.go -package=upstreams

// API is the part of the gateway client the manager drives.
type API interface {
	FetchUpstreams(ctx context.Context) ([]types.UpstreamConfig, error)
	CreateUpstream(ctx context.Context, cfg types.UpstreamConfig) (types.UpstreamConfig, error)
	UpdateUpstream(ctx context.Context, name string, cfg types.UpstreamConfig) (types.UpstreamConfig, error)
	DeleteUpstream(ctx context.Context, name string) error
	ShowConf(ctx context.Context) (string, error)
}

// Manager applies edits through the gateway and records the confirmed
// configs in a topology store.
type Manager struct {
	api   API
	store *topology.Store
	cache kv.Store

	// mu serializes read-modify-write edits.
	mu sync.Mutex

	onChange func(ctx context.Context)
}

// New returns a Manager. cache may be nil.
func New(api API, store *topology.Store, cache kv.Store) *Manager {
	return &Manager{api: api, store: store, cache: cache}
}

// OnChange registers fn to run after every successful mutation, typically a
// topology poll so health reflects the edit.
func (m *Manager) OnChange(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// --- list and cache ---

// Refresh fetches every config from the gateway and replaces the store.
func (m *Manager) Refresh(ctx context.Context) ([]types.UpstreamConfig, error) {
	cfgs, err := m.api.FetchUpstreams(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].Name < cfgs[j].Name })
	m.store.SetConfigs(cfgs)
	m.persist(ctx)
	return m.store.Configs(), nil
}

// Restore loads the cached configs into the store so views exist before the
// first successful fetch. A missing or corrupt cache is not an error.
func (m *Manager) Restore(ctx context.Context) int {
	if m.cache == nil {
		return 0
	}
	raw, ok, err := m.cache.Get(ctx, CacheKey)
	if err != nil {
		slog.Warn("upstreams: cache read failed", "err", err)
		return 0
	}
	if !ok || raw == "" {
		return 0
	}
	var cfgs []types.UpstreamConfig
	if err := json.Unmarshal([]byte(raw), &cfgs); err != nil {
		slog.Warn("upstreams: cache corrupt, ignoring", "err", err)
		return 0
	}
	m.store.SetConfigs(cfgs)
	return m.store.Count()
}

func (m *Manager) persist(ctx context.Context) {
	if m.cache == nil {
		return
	}
	data, err := json.Marshal(m.store.Configs())
	if err != nil {
		slog.Warn("upstreams: cache encode failed", "err", err)
		return
	}
	if err := m.cache.Set(ctx, CacheKey, string(data)); err != nil {
		slog.Warn("upstreams: cache write failed", "err", err)
	}
}

// List returns the confirmed configs sorted by name.
func (m *Manager) List() []types.UpstreamConfig { return m.store.Configs() }

// Get returns the confirmed config for name.
func (m *Manager) Get(name string) (types.UpstreamConfig, error) {
	cfg, ok := m.store.Config(name)
	if !ok {
		return types.UpstreamConfig{}, fmt.Errorf("%w: upstream %q", ErrNotFound, name)
	}
	return cfg, nil
}

// ShowConf returns the gateway's rendered upstream configuration.
func (m *Manager) ShowConf(ctx context.Context) (string, error) {
	return m.api.ShowConf(ctx)
}

// --- edits ---

// ToggleUpstream sets the upstream's enable flag.
func (m *Manager) ToggleUpstream(ctx context.Context, name string, enable bool) (types.UpstreamConfig, error) {
	return m.edit(ctx, name, func(cfg *types.UpstreamConfig) error {
		cfg.Enable = &enable
		return nil
	})
}

// ToggleServer sets one server's enable flag. A bare string entry becomes
// {server, enable}.
func (m *Manager) ToggleServer(ctx context.Context, name, address string, enable bool) (types.UpstreamConfig, error) {
	return m.edit(ctx, name, func(cfg *types.UpstreamConfig) error {
		i := cfg.IndexOf(address)
		if i < 0 {
			return fmt.Errorf("%w: server %q in upstream %q", ErrNotFound, address, name)
		}
		cfg.Servers[i].SetEnable(enable)
		return nil
	})
}

// AddServer appends {server: address}. weight is written only when > 0.
func (m *Manager) AddServer(ctx context.Context, name, address string, weight int) (types.UpstreamConfig, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return types.UpstreamConfig{}, fmt.Errorf("%w: server address is required", ErrInvalid)
	}
	return m.edit(ctx, name, func(cfg *types.UpstreamConfig) error {
		if cfg.IndexOf(address) >= 0 {
			return &ConflictError{Name: name, Reason: ReasonServerExists}
		}
		e := types.ServerEntry{Server: address}
		if weight > 0 {
			e.Weight = weight
		}
		cfg.Servers = append(cfg.Servers, e)
		return nil
	})
}

// DeleteServer removes the server matching address.
func (m *Manager) DeleteServer(ctx context.Context, name, address string) (types.UpstreamConfig, error) {
	return m.edit(ctx, name, func(cfg *types.UpstreamConfig) error {
		i := cfg.IndexOf(address)
		if i < 0 {
			return fmt.Errorf("%w: server %q in upstream %q", ErrNotFound, address, name)
		}
		cfg.Servers = append(cfg.Servers[:i], cfg.Servers[i+1:]...)
		return nil
	})
}

// SetHealthCheck replaces the upstream's health-check policy.
func (m *Manager) SetHealthCheck(ctx context.Context, name string, form HealthCheckForm) (types.UpstreamConfig, error) {
	hc := form.Build()
	return m.edit(ctx, name, func(cfg *types.UpstreamConfig) error {
		cfg.HealthCheck = &hc
		return nil
	})
}

// Save creates cfg when original is empty, otherwise replaces upstream
// original. Renaming is rejected, as is creating a name that exists.
func (m *Manager) Save(ctx context.Context, original string, cfg types.UpstreamConfig) (types.UpstreamConfig, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return types.UpstreamConfig{}, fmt.Errorf("%w: upstream name is required", ErrInvalid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		saved types.UpstreamConfig
		err   error
	)
	if original != "" {
		if cfg.Name != original {
			return types.UpstreamConfig{}, &ConflictError{Name: original, Reason: ReasonRename}
		}
		if _, ok := m.store.Config(original); !ok {
			return types.UpstreamConfig{}, fmt.Errorf("%w: upstream %q", ErrNotFound, original)
		}
		saved, err = m.api.UpdateUpstream(ctx, original, cfg)
	} else {
		if _, ok := m.store.Config(cfg.Name); ok {
			return types.UpstreamConfig{}, &ConflictError{Name: cfg.Name, Reason: ReasonNameExists}
		}
		saved, err = m.api.CreateUpstream(ctx, cfg)
	}
	if err != nil {
		return types.UpstreamConfig{}, err
	}
	return m.commitLocked(ctx, saved), nil
}

// Delete removes upstream name from the gateway and the store.
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.store.Config(name); !ok {
		return fmt.Errorf("%w: upstream %q", ErrNotFound, name)
	}
	if err := m.api.DeleteUpstream(ctx, name); err != nil {
		return err
	}
	m.store.Remove(name)
	m.persist(ctx)
	slog.Info("upstreams: deleted", "upstream", name)
	m.notifyLocked(ctx)
	return nil
}

// edit applies fn to a copy of the confirmed config and sends the result.
func (m *Manager) edit(ctx context.Context, name string, fn func(*types.UpstreamConfig) error) (types.UpstreamConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.store.Config(name)
	if !ok {
		return types.UpstreamConfig{}, fmt.Errorf("%w: upstream %q", ErrNotFound, name)
	}
	if err := fn(&cfg); err != nil {
		return types.UpstreamConfig{}, err
	}
	saved, err := m.api.UpdateUpstream(ctx, name, cfg)
	if err != nil {
		return types.UpstreamConfig{}, err
	}
	return m.commitLocked(ctx, saved), nil
}

func (m *Manager) commitLocked(ctx context.Context, saved types.UpstreamConfig) types.UpstreamConfig {
	m.store.Put(saved)
	m.persist(ctx)
	slog.Info("upstreams: saved", "upstream", saved.Name, "servers", len(saved.Servers), "enabled", saved.Enabled())
	m.notifyLocked(ctx)
	return saved.Clone()
}

func (m *Manager) notifyLocked(ctx context.Context) {
	if m.onChange != nil {
		m.onChange(ctx)
	}
}
