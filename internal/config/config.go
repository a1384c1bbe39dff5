// Package config handles YAML configuration loading with environment
// variable expansion, plus first-run database bootstrapping.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Vault     VaultConfig     `yaml:"vault"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Admin     AdminConfig     `yaml:"admin"`
	Shadow    ShadowConfig    `yaml:"shadow"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Providers []ProviderEntry `yaml:"providers"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Dev       DevConfig       `yaml:"dev"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the store DSN. A postgres:// or postgresql:// DSN
// selects Postgres; anything else is treated as a SQLite path.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // typically ${DATABASE_URL}
}

// VaultConfig holds the credential encryption key.
type VaultConfig struct {
	Key string `yaml:"key"` // 32 bytes base64, typically ${ENCRYPTION_KEY}
}

// CacheConfig holds semantic cache settings. An empty RedisURL disables
// the cache unless Memory is set.
type CacheConfig struct {
	RedisURL string `yaml:"redis_url"` // typically ${REDIS_URL}
	Memory   bool   `yaml:"memory"`    // in-process cache, for dev and tests
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// AdminConfig guards the control surface. An empty token disables it.
type AdminConfig struct {
	Token string `yaml:"token"` // typically ${ADMIN_TOKEN}
}

// ShadowConfig controls shadow-mode evaluation.
type ShadowConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"` // catalog slug of the comparison model
}

// Model returns the shadow model slug, or "" when shadow mode is off.
func (s ShadowConfig) ModelSlug() string {
	if !s.Enabled {
		return ""
	}
	if s.Model == "" {
		return "sonar"
	}
	return s.Model
}

// SimulatorConfig replaces all upstream adapters with the deterministic
// simulator. Also switched on by HIMMI_SIMULATOR=true.
type SimulatorConfig struct {
	Enabled bool `yaml:"enabled"`
	DelayMs int  `yaml:"delay_ms"`
}

// ProviderEntry carries the platform credential and endpoint for one
// upstream, keyed by canonical name ("openai", "anthropic", "gemini", ...).
type ProviderEntry struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Region  string `yaml:"region"`  // AWS region, bedrock only
	Project string `yaml:"project"` // GCP project, vertex only
}

// CatalogConfig seeds the model catalog. Empty sections fall back to the
// built-in defaults.
type CatalogConfig struct {
	Providers []CatalogProvider `yaml:"providers"`
	Models    []CatalogModel    `yaml:"models"`
	Mappings  []CatalogMapping  `yaml:"mappings"`
}

// CatalogProvider is a routable API surface, keyed by display name.
type CatalogProvider struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

// CatalogModel is a client-facing model, keyed by slug.
type CatalogModel struct {
	Slug          string `yaml:"slug"`
	Name          string `yaml:"name"`
	Company       string `yaml:"company"`
	ContextLength int    `yaml:"context_length"`
}

// CatalogMapping prices a model on a provider, USD per million tokens.
type CatalogMapping struct {
	Model      string  `yaml:"model"`    // slug
	Provider   string  `yaml:"provider"` // display name
	InputCost  float64 `yaml:"input_cost"`
	OutputCost float64 `yaml:"output_cost"`
}

// DevConfig seeds a local tenant, user, and API key for development.
type DevConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Email    string  `yaml:"email"`
	Password string  `yaml:"password"`
	APIKey   string  `yaml:"api_key"` // plaintext; hashed on bootstrap
	Credits  float64 `yaml:"credits"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "himmi.db",
		},
	}
}
