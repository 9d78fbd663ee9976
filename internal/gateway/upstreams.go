package gateway

import (
	"context"
	"net/http"

	"github.com/restypanel/restywatch/pkg/types"
)

// FetchStatusText returns the plain-text upstream health page.
func (c *Client) FetchStatusText(ctx context.Context) (string, error) {
	var out struct {
		StatusPage string `json:"status_page"`
	}
	if err := c.call(ctx, "fetch upstream status", http.MethodGet, "/upstream/status", nil, &out); err != nil {
		return "", err
	}
	return out.StatusPage, nil
}

// FetchUpstreams lists every upstream config.
func (c *Client) FetchUpstreams(ctx context.Context) ([]types.UpstreamConfig, error) {
	var out []types.UpstreamConfig
	if err := c.call(ctx, "list upstreams", http.MethodGet, "/upstreams", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateUpstream creates cfg and returns the config the gateway stored.
func (c *Client) CreateUpstream(ctx context.Context, cfg types.UpstreamConfig) (types.UpstreamConfig, error) {
	return c.saveUpstream(ctx, "create upstream", http.MethodPost, "/upstreams", cfg)
}

// UpdateUpstream replaces upstream name with cfg and returns the stored config.
func (c *Client) UpdateUpstream(ctx context.Context, name string, cfg types.UpstreamConfig) (types.UpstreamConfig, error) {
	return c.saveUpstream(ctx, "update upstream", http.MethodPut, "/upstreams/"+escape(name), cfg)
}

func (c *Client) saveUpstream(ctx context.Context, op, method, path string, cfg types.UpstreamConfig) (types.UpstreamConfig, error) {
	var out types.UpstreamConfig
	if err := c.call(ctx, op, method, path, cfg, &out); err != nil {
		return types.UpstreamConfig{}, err
	}
	// Some gateway builds answer without echoing the config.
	if out.Name == "" {
		return cfg.Clone(), nil
	}
	return out, nil
}

// DeleteUpstream removes upstream name.
func (c *Client) DeleteUpstream(ctx context.Context, name string) error {
	return c.call(ctx, "delete upstream", http.MethodDelete, "/upstreams/"+escape(name), nil, nil)
}

// ShowConf returns the rendered upstream configuration text.
func (c *Client) ShowConf(ctx context.Context) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	if err := c.call(ctx, "show upstream conf", http.MethodGet, "/upstream/showconf", nil, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}
