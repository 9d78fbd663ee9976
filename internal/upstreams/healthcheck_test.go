package upstreams

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/restypanel/restywatch/pkg/types"
)

func TestHealthCheckForm_BuildDefaults(t *testing.T) {
	hc := HealthCheckForm{}.Build()

	assert.Equal(t, "http", hc.Type)
	assert.Equal(t, DefaultCheckRequest, hc.HTTPReq)
	assert.Equal(t, 2000, hc.Interval)
	assert.Equal(t, 1000, hc.Timeout)
	assert.Equal(t, 3, hc.Fall)
	assert.Equal(t, 2, hc.Rise)
	assert.Equal(t, 10, hc.Concurrency)
	assert.Equal(t, []int{200, 302}, hc.ValidStatuses)
	assert.Zero(t, hc.Port)
	assert.Nil(t, hc.SSLVerify)
	assert.Empty(t, hc.Host)
}

func TestHealthCheckForm_HTTPSKeepsTLSFields(t *testing.T) {
	port := 8443
	form := HealthCheckForm{Type: "https", Port: &port, SSLVerify: true, Host: " api.example.com "}

	hc := form.Build()
	require.NotNil(t, hc.SSLVerify)
	assert.True(t, *hc.SSLVerify)
	assert.Equal(t, "api.example.com", hc.Host)
	assert.Equal(t, 8443, hc.Port)

	form.Type = "tcp"
	hc = form.Build()
	assert.Nil(t, hc.SSLVerify)
	assert.Empty(t, hc.Host)
}

func TestDefaultHealthCheckForm(t *testing.T) {
	f := DefaultHealthCheckForm(nil)
	assert.Equal(t, "http", f.Type)
	assert.Equal(t, 6000, *f.Interval)
	assert.Equal(t, 3000, *f.Timeout)
	assert.Equal(t, 1, *f.Fall)
	assert.Equal(t, 1, *f.Rise)
	assert.Equal(t, 10, *f.Concurrency)
	assert.Equal(t, []int{200, 302}, f.ValidStatuses)
	assert.Nil(t, f.Port)

	verify := true
	f = DefaultHealthCheckForm(&types.HealthCheck{Type: "https", Interval: 500, Port: 443, ValidStatuses: []int{204}, SSLVerify: &verify})
	assert.Equal(t, "https", f.Type)
	assert.Equal(t, 500, *f.Interval)
	assert.Equal(t, 3000, *f.Timeout)
	assert.Equal(t, 443, *f.Port)
	assert.Equal(t, []int{204}, f.ValidStatuses)
	assert.True(t, f.SSLVerify)
}

func TestSetHealthCheck(t *testing.T) {
	m, api, store, _ := setup(t, `{"name":"api","servers":[]}`)
	api.EXPECT().UpdateUpstream(gomock.Any(), "api", gomock.Any()).DoAndReturn(echo)

	interval := 5000
	_, err := m.SetHealthCheck(context.Background(), "api", HealthCheckForm{Type: "tcp", Interval: &interval})
	require.NoError(t, err)

	cfg, _ := store.Config("api")
	require.NotNil(t, cfg.HealthCheck)
	assert.Equal(t, "tcp", cfg.HealthCheck.Type)
	assert.Equal(t, 5000, cfg.HealthCheck.Interval)
	assert.Equal(t, 1000, cfg.HealthCheck.Timeout)
}
