package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/restypanel/restywatch/internal/config"
)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Client talks to one gateway admin API.
type Client struct {
	cfg  config.GatewayConfig
	http *http.Client
	now  func() time.Time
}

// New builds a Client with the configured auth and TLS settings.
func New(cfg config.GatewayConfig) (*Client, error) {
	hc, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("gateway: build http client: %w", err)
	}
	return &Client{cfg: cfg, http: hc, now: time.Now}, nil
}

// BaseURL returns the admin API base URL.
func (c *Client) BaseURL() string { return c.cfg.URL }

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

func buildHTTPClient(cfg config.GatewayConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	if cfg.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", cfg.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultGatewayTimeout
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
			auth: cfg.Auth,
		},
		Timeout: timeout,
	}, nil
}

// envelope is the gateway's response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// raw performs one request and returns the response body of a 2xx reply.
func (c *Client) raw(ctx context.Context, op, method, path string, body any, accept string) ([]byte, int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("gateway: %s: encode body: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway: %s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return data, resp.StatusCode, nil
}

// call performs a request and unwraps the envelope, decoding data into out
// when out is non-nil.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	data, status, err := c.raw(ctx, op, method, path, body, "application/json")
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if status < 200 || status > 299 {
			return &APIError{Op: op, Status: status, Message: http.StatusText(status)}
		}
		return fmt.Errorf("gateway: %s: decode envelope: %w", op, err)
	}
	if status < 200 || status > 299 || (env.Code != 0 && env.Code != http.StatusOK) {
		return &APIError{Op: op, Status: status, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("gateway: %s: decode data: %w", op, err)
	}
	return nil
}

func escape(name string) string { return url.PathEscape(name) }
