package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/restypanel/restywatch/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultSampleInterval   = 3 * time.Second
	DefaultTimeRange        = 5 * time.Minute
	DefaultTopologyInterval = 5 * time.Second
	DefaultGatewayTimeout   = 10 * time.Second
	DefaultHTTPPort         = 8080
	DefaultGRPCPort         = 50051
	DefaultStoragePath      = "restywatch.db"
	DefaultRefreshRate      = 1.0
	DefaultRefreshBurst     = 3
)

// Config is the top-level configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Poll    PollConfig    `yaml:"poll"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Alerts  AlertsConfig  `yaml:"alerts"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// GatewayConfig describes the gateway admin API that is polled.
type GatewayConfig struct {
	// URL is the admin API base, e.g. "http://127.0.0.1:9999/api".
	URL string `yaml:"url"`

	// MetricsFormat selects the snapshot source: json (GET /status) or
	// prometheus (text exposition at MetricsPath).
	MetricsFormat string `yaml:"metrics_format"`

	// MetricsPath overrides the path polled for snapshots.
	MetricsPath string `yaml:"metrics_path"`

	// MetricNames maps counter names (requests_total, bytes_read, ...) to
	// exposition metric family names. Used when MetricsFormat is prometheus.
	MetricNames map[string]string `yaml:"metric_names"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`

	// Timeout bounds every admin API call.
	Timeout time.Duration `yaml:"timeout"`
}

// EffectiveMetricsPath returns MetricsPath or the format's default path.
func (g GatewayConfig) EffectiveMetricsPath() string {
	if g.MetricsPath != "" {
		return g.MetricsPath
	}
	if g.MetricsFormat == "prometheus" {
		return "/metrics"
	}
	return "/status"
}

// MetricName returns the exposition family name for a counter.
func (g GatewayConfig) MetricName(counter string) string {
	if n, ok := g.MetricNames[counter]; ok && n != "" {
		return n
	}
	return DefaultMetricNames[counter]
}

// DefaultMetricNames are the family names the gateway's exporter emits.
var DefaultMetricNames = map[string]string{
	types.CounterRequestsTotal:     "restygwy_requests_total",
	types.CounterRequestsSuccess:   "restygwy_requests_success_total",
	types.CounterBytesRead:         "restygwy_traffic_read_bytes_total",
	types.CounterBytesWritten:      "restygwy_traffic_write_bytes_total",
	types.CounterResponseTimeTotal: "restygwy_response_time_seconds_total",
	types.GaugeConnectionsActive:   "restygwy_connections_active",
	MetricBootTime:                 "process_start_time_seconds",
}

// MetricBootTime is the MetricNames key for the gateway start time.
const MetricBootTime = "boot_time"

// AuthConfig specifies how requests to the gateway are authenticated.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header the API key is sent in (apikey mode).
	Header string `yaml:"header"`
	// KeyEnv names the environment variable holding the API key.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string { return env(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return env(a.PasswordEnv) }

// TLSConfig holds TLS dial options for the gateway.
type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file"`
}

// PollConfig holds the two poll cadences and the window length.
type PollConfig struct {
	SampleInterval   time.Duration `yaml:"sample_interval"`
	TimeRange        time.Duration `yaml:"time_range"`
	TopologyInterval time.Duration `yaml:"topology_interval"`
}

// StorageConfig selects the key/value backend for the window and the
// upstream cache.
type StorageConfig struct {
	// Backend is one of: sqlite | memory.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ServerConfig holds the operator-facing listeners.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves the health service. 0 disables it.
	GRPCPort int `yaml:"grpc_port"`

	Auth ServerAuthConfig `yaml:"auth"`

	// RefreshRate and RefreshBurst throttle POST /api/v1/refresh.
	RefreshRate  float64 `yaml:"refresh_rate"`
	RefreshBurst int     `yaml:"refresh_burst"`
}

// ServerAuthConfig controls client authentication on the REST and gRPC listeners.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode   string `yaml:"mode"`
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header and gRPC metadata key. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a ServerAuthConfig) Key() string { return env(a.KeyEnv) }

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a ServerAuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is "<field> <op> <value>", e.g. "success_ratio < 95" or
	// "servers_down > 0".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Upstream restricts server_* fields to one upstream. Empty means all.
	Upstream string `yaml:"upstream"`

	// Cooldown suppresses re-fires. Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type   string `yaml:"type"`
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string { return env(w.URLEnv) }

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.Gateway.URL = strings.TrimRight(cfg.Gateway.URL, "/")

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Gateway: GatewayConfig{
			MetricsFormat: "json",
			Timeout:       DefaultGatewayTimeout,
		},
		Poll: PollConfig{
			SampleInterval:   DefaultSampleInterval,
			TimeRange:        DefaultTimeRange,
			TopologyInterval: DefaultTopologyInterval,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    DefaultStoragePath,
		},
		Server: ServerConfig{
			HTTPPort:     DefaultHTTPPort,
			GRPCPort:     DefaultGRPCPort,
			RefreshRate:  DefaultRefreshRate,
			RefreshBurst: DefaultRefreshBurst,
		},
		LogLevel: "info",
	}
}

func validate(cfg *Config) error {
	if cfg.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if !strings.HasPrefix(cfg.Gateway.URL, "http://") && !strings.HasPrefix(cfg.Gateway.URL, "https://") {
		return fmt.Errorf("gateway.url %q: scheme must be http or https", cfg.Gateway.URL)
	}
	switch cfg.Gateway.MetricsFormat {
	case "json", "prometheus":
	default:
		return fmt.Errorf("gateway.metrics_format: unknown format %q", cfg.Gateway.MetricsFormat)
	}
	switch cfg.Gateway.Auth.Mode {
	case "apikey":
		if cfg.Gateway.Auth.Header == "" {
			return fmt.Errorf("gateway.auth.header is required for apikey mode")
		}
	case "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("gateway.auth: unknown mode %q", cfg.Gateway.Auth.Mode)
	}
	if cfg.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}

	if cfg.Poll.SampleInterval <= 0 {
		return fmt.Errorf("poll.sample_interval must be positive")
	}
	if cfg.Poll.TimeRange < cfg.Poll.SampleInterval {
		return fmt.Errorf("poll.time_range %v is shorter than sample_interval %v",
			cfg.Poll.TimeRange, cfg.Poll.SampleInterval)
	}
	if cfg.Poll.TopologyInterval <= 0 {
		return fmt.Errorf("poll.topology_interval must be positive")
	}

	switch cfg.Storage.Backend {
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend)
	}

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d out of range", cfg.Server.GRPCPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth: unknown mode %q", cfg.Server.Auth.Mode)
	}
	if cfg.Server.RefreshRate <= 0 || cfg.Server.RefreshBurst <= 0 {
		return fmt.Errorf("server.refresh_rate and refresh_burst must be positive")
	}

	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("alerts.rules[%d] %q: condition must be \"<field> <op> <value>\"", i, r.Name)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log_level: unknown level %q", cfg.LogLevel)
	}
	return nil
}
