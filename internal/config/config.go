// Package config loads and validates monitor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/storewatch/internal/classify"
	"github.com/JakeFAU/storewatch/internal/monitor"
	"github.com/JakeFAU/storewatch/internal/targets"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig    `mapstructure:"server"`
	Monitor    MonitorConfig   `mapstructure:"monitor"`
	Probe      ProbeConfig     `mapstructure:"probe"`
	Platforms  PlatformsConfig `mapstructure:"platforms"`
	Classifier classify.Rules  `mapstructure:"classifier"`
	Breaker    BreakerConfig   `mapstructure:"breaker"`
	SKU        SKUConfig       `mapstructure:"sku"`
	Render     RenderConfig    `mapstructure:"render"`
	DB         DBConfig        `mapstructure:"db"`
	Evidence   EvidenceConfig  `mapstructure:"evidence"`
	Notify     NotifyConfig    `mapstructure:"notify"`
	Logging    LoggingConfig   `mapstructure:"logging"`
	Telemetry  TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior. A non-empty APIKey protects
// the /v1 routes.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// MonitorConfig governs the cycle loop.
type MonitorConfig struct {
	TargetsFile         string `mapstructure:"targets_file"`
	IntervalSeconds     int    `mapstructure:"interval_seconds"`
	Concurrency         int    `mapstructure:"concurrency"`
	CycleTimeoutSeconds int    `mapstructure:"cycle_timeout_seconds"`
	SlackSeconds        int    `mapstructure:"slack_seconds"`
	SKUIntervalSeconds  int    `mapstructure:"sku_interval_seconds"`
	CatalogFile         string `mapstructure:"catalog_file"`
}

// ProbeConfig configures per-attempt transport behavior.
type ProbeConfig struct {
	TimeoutSeconds        int                `mapstructure:"timeout_seconds"`
	MaxAttempts           int                `mapstructure:"max_attempts"`
	BackoffBaseMs         int                `mapstructure:"backoff_base_ms"`
	BackoffMaxMs          int                `mapstructure:"backoff_max_ms"`
	MinDelayMs            int                `mapstructure:"min_delay_ms"`
	MaxDelayMs            int                `mapstructure:"max_delay_ms"`
	UserAgents            []string           `mapstructure:"user_agents"`
	DefaultRPS            float64            `mapstructure:"default_rps"`
	Burst                 int                `mapstructure:"burst"`
	PlatformRPS           map[string]float64 `mapstructure:"platform_rps"`
	ResolveTimeoutSeconds int                `mapstructure:"resolve_timeout_seconds"`
	ResolveCacheSize      int                `mapstructure:"resolve_cache_size"`
	ResolveCacheTTLMin    int                `mapstructure:"resolve_cache_ttl_minutes"`
}

// PlatformsConfig holds host tables and platform endpoints.
type PlatformsConfig struct {
	Rules            []targets.HostRule `mapstructure:"rules"`
	GrabFoodEndpoint string             `mapstructure:"grabfood_endpoint"`
}

// BreakerConfig tunes the per-target circuit breaker.
type BreakerConfig struct {
	Threshold       int `mapstructure:"threshold"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	Shards          int `mapstructure:"shards"`
}

// SKUConfig tunes product matching.
type SKUConfig struct {
	Threshold   float64  `mapstructure:"threshold"`
	StripTokens []string `mapstructure:"strip_tokens"`
}

// RenderConfig configures the headless browser used for JS-heavy pages.
type RenderConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	SettleMs          int    `mapstructure:"settle_ms"`
	AcceptLanguage    string `mapstructure:"accept_language"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// EvidenceConfig selects where review snapshots are written.
type EvidenceConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// NotifyConfig selects the notification transport.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig enables Cloud Trace export of check spans.
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ProjectID      string  `mapstructure:"project_id"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment. With an empty path the usual
// locations are searched for storewatch.yaml and a missing file is not an
// error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOREWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("storewatch")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/storewatch/")
		v.AddConfigPath("$HOME/.storewatch")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("monitor.targets_file", "targets.yaml")
	v.SetDefault("monitor.interval_seconds", 300)
	v.SetDefault("monitor.concurrency", 5)
	v.SetDefault("monitor.cycle_timeout_seconds", 0)
	v.SetDefault("monitor.slack_seconds", 15)
	v.SetDefault("monitor.sku_interval_seconds", 3600)
	v.SetDefault("probe.timeout_seconds", 20)
	v.SetDefault("probe.max_attempts", 3)
	v.SetDefault("probe.backoff_base_ms", 2000)
	v.SetDefault("probe.backoff_max_ms", 10000)
	v.SetDefault("probe.min_delay_ms", 1000)
	v.SetDefault("probe.max_delay_ms", 3000)
	v.SetDefault("probe.default_rps", 1.0)
	v.SetDefault("probe.burst", 1)
	v.SetDefault("probe.resolve_timeout_seconds", 15)
	v.SetDefault("probe.resolve_cache_size", 1024)
	v.SetDefault("probe.resolve_cache_ttl_minutes", 360)
	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.cooldown_seconds", 300)
	v.SetDefault("breaker.shards", 32)
	v.SetDefault("sku.threshold", 0.45)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.nav_timeout_seconds", 30)
	v.SetDefault("render.settle_ms", 1500)
	v.SetDefault("render.accept_language", "en-PH,en;q=0.9")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("evidence.backend", "memory")
	v.SetDefault("evidence.base_dir", "evidence")
	v.SetDefault("evidence.prefix", "snapshots")
	v.SetDefault("notify.backend", "log")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor.concurrency must be > 0")
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be > 0")
	}
	if c.Monitor.TargetsFile == "" {
		return fmt.Errorf("monitor.targets_file is required")
	}
	if c.Monitor.CatalogFile != "" && c.Monitor.SKUIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.sku_interval_seconds must be > 0 when a catalog is configured")
	}
	if c.Probe.TimeoutSeconds <= 0 {
		return fmt.Errorf("probe.timeout_seconds must be > 0")
	}
	if c.Probe.MaxAttempts <= 0 {
		return fmt.Errorf("probe.max_attempts must be > 0")
	}
	if c.Probe.MaxDelayMs < c.Probe.MinDelayMs {
		return fmt.Errorf("probe.max_delay_ms must be >= probe.min_delay_ms")
	}
	for name := range c.Probe.PlatformRPS {
		if !monitor.Platform(strings.ToLower(name)).Valid() {
			return fmt.Errorf("probe.platform_rps: unknown platform %q", name)
		}
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be > 0")
	}
	if c.Breaker.CooldownSeconds <= 0 {
		return fmt.Errorf("breaker.cooldown_seconds must be > 0")
	}
	if c.SKU.Threshold < 0 || c.SKU.Threshold > 1 {
		return fmt.Errorf("sku.threshold must be within [0, 1]")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when render is enabled")
	}
	switch c.Evidence.Backend {
	case "", "memory", "none":
	case "local":
		if c.Evidence.BaseDir == "" {
			return fmt.Errorf("evidence.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Evidence.Bucket == "" {
			return fmt.Errorf("evidence.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("evidence.backend %q is not supported", c.Evidence.Backend)
	}
	switch c.Notify.Backend {
	case "", "log":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	if c.Telemetry.Enabled && c.Telemetry.ProjectID == "" {
		return fmt.Errorf("telemetry.project_id is required when tracing is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// Interval is the availability cycle period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// SKUInterval is the SKU cycle period; zero disables SKU cycles.
func (c Config) SKUInterval() time.Duration {
	if c.Monitor.CatalogFile == "" {
		return 0
	}
	return time.Duration(c.Monitor.SKUIntervalSeconds) * time.Second
}

// ProbeTimeout is the budget for a single attempt.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// PlatformRPS converts the configured per-platform rates.
func (c Config) PlatformRPS() map[monitor.Platform]float64 {
	out := make(map[monitor.Platform]float64, len(c.Probe.PlatformRPS))
	for name, rps := range c.Probe.PlatformRPS {
		if p := monitor.Platform(strings.ToLower(name)); p.Valid() {
			out[p] = rps
		}
	}
	return out
}
