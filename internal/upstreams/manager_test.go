package upstreams

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/restypanel/restywatch/internal/gateway"
	"github.com/restypanel/restywatch/internal/kv"
	"github.com/restypanel/restywatch/internal/topology"
	"github.com/restypanel/restywatch/pkg/types"
)

func cfgFromJSON(t *testing.T, js string) types.UpstreamConfig {
	t.Helper()
	var cfg types.UpstreamConfig
	require.NoError(t, json.Unmarshal([]byte(js), &cfg))
	return cfg
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// setup returns a manager whose store already holds api.
func setup(t *testing.T, apiCfg string) (*Manager, *MockAPI, *topology.Store, *kv.Memory) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockAPI := NewMockAPI(ctrl)
	store := topology.NewStore()
	cache := kv.NewMemory()
	if apiCfg != "" {
		store.Put(cfgFromJSON(t, apiCfg))
	}
	return New(mockAPI, store, cache), mockAPI, store, cache
}

// echo returns the submitted config as the gateway would.
func echo(_ context.Context, _ string, cfg types.UpstreamConfig) (types.UpstreamConfig, error) {
	return cfg, nil
}

func TestToggleServer_RawStringBecomesObject(t *testing.T) {
	m, api, store, _ := setup(t, `{"name":"api","servers":["10.0.0.1:80","10.0.0.2:80"]}`)

	var sent types.UpstreamConfig
	api.EXPECT().UpdateUpstream(gomock.Any(), "api", gomock.Any()).
		DoAndReturn(func(ctx context.Context, name string, cfg types.UpstreamConfig) (types.UpstreamConfig, error) {
			sent = cfg
			return cfg, nil
		})

	_, err := m.ToggleServer(context.Background(), "api", "10.0.0.1:80", false)
	require.NoError(t, err)

	assert.JSONEq(t, `{"name":"api","servers":[{"server":"10.0.0.1:80","enable":false},"10.0.0.2:80"]}`, toJSON(t, sent))
	assert.False(t, store.Views("api")[0].Enabled)
}

func TestToggleServer_MatchesStructuredByCanonicalAddress(t *testing.T) {
	m, api, _, _ := setup(t, `{"name":"api","servers":[{"host":"Backend","port":"0080"}]}`)
	api.EXPECT().UpdateUpstream(gomock.Any(), "api", gomock.Any()).DoAndReturn(echo)

	saved, err := m.ToggleServer(context.Background(), "api", "backend:80", false)
	require.NoError(t, err)
	assert.False(t, saved.Servers[0].Enabled())
}

func TestToggleServer_NotFound(t *testing.T) {
	m, _, _, _ := setup(t, `{"name":"api","servers":["10.0.0.1:80"]}`)

	_, err := m.ToggleServer(context.Background(), "api", "10.9.9.9:80", true)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.ToggleServer(context.Background(), "web", "10.0.0.1:80", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToggleUpstream_UsesReturnedConfig(t *testing.T) {
	m, api, store, cache := setup(t, `{"name":"api","servers":["10.0.0.1:80"]}`)

	// The gateway normalizes the entry; the confirmed config must be what it returns.
	returned := cfgFromJSON(t, `{"name":"api","enable":false,"servers":[{"server":"10.0.0.1:80","weight":1}]}`)
	api.EXPECT().UpdateUpstream(gomock.Any(), "api", gomock.Any()).Return(returned, nil)

	saved, err := m.ToggleUpstream(context.Background(), "api", false)
	require.NoError(t, err)
	assert.False(t, saved.Enabled())

	cfg, ok := store.Config("api")
	require.True(t, ok)
	assert.Equal(t, 1, cfg.Servers[0].Weight)

	raw, ok, err := cache.Get(context.Background(), CacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"weight":1`)
}

func TestEdit_GatewayFailureLeavesStateUnchanged(t *testing.T) {
	m, api, store, _ := setup(t, `{"name":"api","servers":["10.0.0.1:80"]}`)
	boom := &gateway.TransportError{Op: "update upstream", Err: errors.New("connection refused")}
	api.EXPECT().UpdateUpstream(gomock.Any(), "api", gomock.Any()).Return(types.UpstreamConfig{}, boom)

	_, err := m.AddServer(context.Background(), "api", "10.0.0.2:80", 5)
	require.Error(t, err)
	assert.True(t, gateway.IsTransport(err))

	cfg, _ := store.Config("api")
	assert.Len(t, cfg.Servers, 1)
}

func TestAddServer(t *testing.T) {
	m, api, _, _ := setup(t, `{"name":"api","servers":["10.0.0.1:80"]}`)

	var sent types.UpstreamConfig
	api.EXPECT().UpdateUpstream(gomock.Any(), "api", gomock.Any()).
		DoAndReturn(func(ctx context.Context, name string, cfg types.UpstreamConfig) (types.UpstreamConfig, error) {
			sent = cfg
			return cfg, nil
		}).Times(2)

	_, err := m.AddServer(context.Background(), "api", " 10.0.0.2:80 ", 3)
	require.NoError(t, err)
	assert.JSONEq(t, `{"server":"10.0.0.2:80","weight":3}`, toJSON(t, sent.Servers[1]))

	_, err = m.AddServer(context.Background(), "api", "10.0.0.3:80", 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"server":"10.0.0.3:80"}`, toJSON(t, sent.Servers[2]))
}

func TestAddServer_Rejects(t *testing.T) {
	m, _, _, _ := setup(t, `{"name":"api","servers":["10.0.0.1:80"]}`)

	_, err := m.AddServer(context.Background(), "api", "  ", 1)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = m.AddServer(context.Background(), "api", "10.0.0.1:080", 1)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonServerExists, ce.Reason)
}

func TestDeleteServer(t *testing.T) {
	m, api, store, _ := setup(t, `{"name":"api","servers":["10.0.0.1:80",{"server":"10.0.0.2:80"},"10.0.0.3:80"]}`)
	api.EXPECT().UpdateUpstream(gomock.Any(), "api", gomock.Any()).DoAndReturn(echo)

	_, err := m.DeleteServer(context.Background(), "api", "10.0.0.2:80")
	require.NoError(t, err)

	views := store.Views("api")
	require.Len(t, views, 2)
	assert.Equal(t, "10.0.0.1:80", views[0].Address)
	assert.Equal(t, "10.0.0.3:80", views[1].Address)

	_, err = m.DeleteServer(context.Background(), "api", "10.0.0.2:80")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave_Create(t *testing.T) {
	m, api, store, _ := setup(t, "")
	api.EXPECT().CreateUpstream(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cfg types.UpstreamConfig) (types.UpstreamConfig, error) {
			return cfg, nil
		})

	_, err := m.Save(context.Background(), "", cfgFromJSON(t, `{"name":"web","servers":[]}`))
	require.NoError(t, err)
	_, ok := store.Config("web")
	assert.True(t, ok)
}

func TestSave_Rejects(t *testing.T) {
	m, _, _, _ := setup(t, `{"name":"api","servers":[]}`)
	ctx := context.Background()

	_, err := m.Save(ctx, "", types.UpstreamConfig{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalid)

	var ce *ConflictError
	_, err = m.Save(ctx, "", types.UpstreamConfig{Name: "api"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonNameExists, ce.Reason)

	_, err = m.Save(ctx, "api", types.UpstreamConfig{Name: "api2"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonRename, ce.Reason)

	_, err = m.Save(ctx, "ghost", types.UpstreamConfig{Name: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave_UpdatePreservesUnknownFields(t *testing.T) {
	m, api, _, _ := setup(t, `{"name":"api","servers":[]}`)

	var sent string
	api.EXPECT().UpdateUpstream(gomock.Any(), "api", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, cfg types.UpstreamConfig) (types.UpstreamConfig, error) {
			sent = toJSON(t, cfg)
			return cfg, nil
		})

	_, err := m.Save(context.Background(), "api", cfgFromJSON(t, `{"name":"api","balancer":"chash","servers":[{"server":"10.0.0.1:80","max_fails":3}]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"api","balancer":"chash","servers":[{"server":"10.0.0.1:80","max_fails":3}]}`, sent)
}

func TestDelete(t *testing.T) {
	m, api, store, _ := setup(t, `{"name":"api","servers":[]}`)
	api.EXPECT().DeleteUpstream(gomock.Any(), "api").Return(nil)

	require.NoError(t, m.Delete(context.Background(), "api"))
	assert.Equal(t, 0, store.Count())
	assert.ErrorIs(t, m.Delete(context.Background(), "api"), ErrNotFound)
}

func TestOnChange_CalledAfterMutation(t *testing.T) {
	m, api, _, _ := setup(t, `{"name":"api","servers":[]}`)
	api.EXPECT().UpdateUpstream(gomock.Any(), "api", gomock.Any()).DoAndReturn(echo)

	calls := 0
	m.OnChange(func(context.Context) { calls++ })

	_, err := m.ToggleUpstream(context.Background(), "api", true)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, _ = m.ToggleServer(context.Background(), "api", "nope:1", true)
	assert.Equal(t, 1, calls, "failed edits must not notify")
}

func TestRefreshAndRestore(t *testing.T) {
	m, api, store, cache := setup(t, "")
	api.EXPECT().FetchUpstreams(gomock.Any()).Return([]types.UpstreamConfig{
		cfgFromJSON(t, `{"name":"web","servers":["10.0.1.1:80"]}`),
		cfgFromJSON(t, `{"name":"api","servers":["10.0.0.1:80"]}`),
	}, nil)

	list, err := m.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "api", list[0].Name)

	// A fresh manager over the same cache sees the configs before any fetch.
	fresh := New(api, topology.NewStore(), cache)
	assert.Equal(t, 2, fresh.Restore(context.Background()))
	assert.Equal(t, []string{"api", "web"}, fresh.store.Names())
	assert.Equal(t, 2, store.Count())
}

func TestRestore_CorruptCacheIgnored(t *testing.T) {
	m, _, _, cache := setup(t, "")
	require.NoError(t, cache.Set(context.Background(), CacheKey, "{not json"))
	assert.Equal(t, 0, m.Restore(context.Background()))
}

func TestShowConf(t *testing.T) {
	m, api, _, _ := setup(t, "")
	api.EXPECT().ShowConf(gomock.Any()).Return("upstream api {}", nil)

	got, err := m.ShowConf(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "upstream api {}", got)
}
