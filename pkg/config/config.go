// Package config defines the typed configuration tree and its koanf-based
// loader. Every section runs through the SetDefaults/Validate pipeline before
// the runtime sees it.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Auth         AuthConfig         `yaml:"auth"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Health       HealthConfig       `yaml:"health"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Notify       NotifyConfig       `yaml:"notify"`
	Secrets      SecretsConfig      `yaml:"secrets"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig controls token minting and verification.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// RateLimitConfig controls the per-client request guard.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

// OrchestratorConfig controls worker deployment.
type OrchestratorConfig struct {
	WorkDir         string        `yaml:"work_dir"`
	WorkerCommand   []string      `yaml:"worker_command"`
	PortBase        int           `yaml:"port_base"`
	PortCapacity    int           `yaml:"port_capacity"`
	StartupDeadline time.Duration `yaml:"startup_deadline"`
	DrainDeadline   time.Duration `yaml:"drain_deadline"`
}

// HealthConfig controls the monitor loops.
type HealthConfig struct {
	HealthInterval  time.Duration `yaml:"health_interval"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	AutoRestart     bool          `yaml:"auto_restart"`
}

// AlertsConfig controls rule evaluation cadence.
type AlertsConfig struct {
	Interval    time.Duration `yaml:"interval"`
	NotifyRetry int           `yaml:"notify_retry"`
}

// MetricsConfig selects the metric store backend.
type MetricsConfig struct {
	Backend    string        `yaml:"backend"` // memory or redis
	RedisAddr  string        `yaml:"redis_addr"`
	MaxSamples int           `yaml:"max_samples"`
	MaxAge     time.Duration `yaml:"max_age"`
}

// DispatchConfig controls the invocation hot path.
type DispatchConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	DefaultConcurrency int           `yaml:"default_concurrency"`
}

// NotifyConfig holds sink credentials. The webhook sink needs none; email
// and chat sinks activate only when configured.
type NotifyConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     string `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
	SMTPFrom     string `yaml:"smtp_from"`
	SlackToken   string `yaml:"slack_token"`
}

// SecretsConfig holds the master key for secret encryption.
type SecretsConfig struct {
	MasterKey string `yaml:"master_key"`
}

// ProvidersConfig holds model provider credentials and the supported model
// set used by agent update validation.
type ProvidersConfig struct {
	AnthropicAPIKey string   `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string   `yaml:"openai_api_key"`
	SupportedModels []string `yaml:"supported_models"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // simple or verbose
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// SetDefaults fills in every unset field.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "agentmesh"
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = time.Hour
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = 24 * time.Hour
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.Orchestrator.WorkDir == "" {
		c.Orchestrator.WorkDir = "/var/lib/agentmesh/workers"
	}
	if c.Orchestrator.PortBase == 0 {
		c.Orchestrator.PortBase = 9000
	}
	if c.Orchestrator.PortCapacity == 0 {
		c.Orchestrator.PortCapacity = 100
	}
	if c.Orchestrator.StartupDeadline == 0 {
		c.Orchestrator.StartupDeadline = 60 * time.Second
	}
	if c.Orchestrator.DrainDeadline == 0 {
		c.Orchestrator.DrainDeadline = 10 * time.Second
	}
	if c.Health.HealthInterval == 0 {
		c.Health.HealthInterval = 30 * time.Second
	}
	if c.Health.MetricsInterval == 0 {
		c.Health.MetricsInterval = 60 * time.Second
	}
	if c.Alerts.Interval == 0 {
		c.Alerts.Interval = 30 * time.Second
	}
	if c.Alerts.NotifyRetry == 0 {
		c.Alerts.NotifyRetry = 3
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = "memory"
	}
	if c.Metrics.RedisAddr == "" {
		c.Metrics.RedisAddr = "localhost:6379"
	}
	if c.Metrics.MaxSamples == 0 {
		c.Metrics.MaxSamples = 1000
	}
	if c.Metrics.MaxAge == 0 {
		c.Metrics.MaxAge = 24 * time.Hour
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = 30 * time.Second
	}
	if c.Dispatch.DefaultConcurrency == 0 {
		c.Dispatch.DefaultConcurrency = 16
	}
	if len(c.Providers.SupportedModels) == 0 {
		c.Providers.SupportedModels = []string{
			"claude-sonnet-4-5",
			"claude-opus-4-1",
			"claude-haiku-4-5",
			"gpt-4o",
			"gpt-4o-mini",
			"gpt-4.1",
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required when auth is enabled")
	}
	if c.Secrets.MasterKey == "" {
		return fmt.Errorf("secrets.master_key is required")
	}
	if c.Orchestrator.PortCapacity < 1 {
		return fmt.Errorf("orchestrator.port_capacity must be positive")
	}
	switch c.Metrics.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("metrics.backend %q is not supported (memory, redis)", c.Metrics.Backend)
	}
	if c.RateLimit.Enabled && c.RateLimit.Limit < 1 {
		return fmt.Errorf("rate_limit.limit must be positive")
	}
	return nil
}
