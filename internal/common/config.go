// Package common provides shared utilities for the event engine.
package common

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the event engine.
type Config struct {
	Environment string            `toml:"environment"`
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"database"`
	Auth        AuthConfig        `toml:"auth"`
	Logging     LoggingConfig     `toml:"logging"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Mcdonalds   ThirdPartyConfig  `toml:"mcdonalds"`
	Redis       RedisConfig       `toml:"redis"`
	ObjectStore ObjectStoreConfig `toml:"object_store"`
	FeatureFlag FeatureFlagConfig `toml:"feature_flag"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the SurrealDB connection configuration. The toml
// section name is "database" and the env override is DATABASE__URL per
// spec §6 ("Configuration (environment variables, double-underscore
// nesting): DATABASE__URL, ...").
type StorageConfig struct {
	URL       string `toml:"url"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// AuthConfig holds bearer-token signing configuration. AUTH_SECRET is a
// flat (non-nested) override per spec §6.
type AuthConfig struct {
	Secret        string `toml:"secret" env:"AUTH_SECRET"`
	TokenIssuer   string `toml:"token_issuer"`
	TokenAudience string `toml:"token_audience"`
	TokenExpiry   string `toml:"token_expiry"` // duration string, default "24h"
}

// GetTokenExpiry parses and returns the token expiry duration.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.TokenExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// SchedulerConfig holds JobScheduler and AccountLeaseCache design
// defaults (spec §4.2, §4.3).
type SchedulerConfig struct {
	EventAPIBase     string `toml:"event_api_base" env:"EVENT_API_BASE"`
	LeaseTTL         string `toml:"lease_ttl"`          // default "5m"
	RotationMinutes  int    `toml:"rotation_minutes"`   // default 14, spec §4.3
	FailureThreshold int    `toml:"failure_threshold"`  // refresh_failure_count cutoff
	DrainTimeout     string `toml:"drain_timeout"`      // default "30s", spec §5
}

// GetLeaseTTL parses and returns the lease TTL duration.
func (c *SchedulerConfig) GetLeaseTTL() time.Duration {
	d, err := time.ParseDuration(c.LeaseTTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetDrainTimeout parses and returns the shutdown drain budget.
func (c *SchedulerConfig) GetDrainTimeout() time.Duration {
	d, err := time.ParseDuration(c.DrainTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ThirdPartyConfig holds the upstream vendor client configuration. The
// toml section name and env prefix "mcdonalds"/"MCDONALDS" match spec
// §6's example verbatim (MCDONALDS__CLIENT_ID) and the original_source
// project's own domain (a McDonald's rewards API).
type ThirdPartyConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	BaseURL      string   `toml:"base_url"`
	Timeout      string   `toml:"timeout"` // default "10s", spec §5
	ProxyURLs    []string `toml:"proxy_urls"`
}

// GetTimeout parses and returns the external-call timeout.
func (c *ThirdPartyConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// RedisConfig holds the offer-details cache connection. Optional per
// spec §6 ("REDIS_CONNECTION_STRING?").
type RedisConfig struct {
	ConnectionString string `toml:"connection_string" env:"REDIS_CONNECTION_STRING"`
}

// ObjectStoreConfig holds the S3-compatible image store configuration.
type ObjectStoreConfig struct {
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	ImageBaseURL string `toml:"image_base_url"`
}

// FeatureFlagConfig holds the dynamic-config SDK key.
type FeatureFlagConfig struct {
	SDKKey string `toml:"sdk_key"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			URL:       "ws://localhost:8000/rpc",
			Namespace: "offerengine",
			Database:  "offerengine",
			Username:  "root",
			Password:  "root",
		},
		Auth: AuthConfig{
			Secret:        "dev-secret-change-in-production",
			TokenIssuer:   "Maccas Scheduler",
			TokenAudience: "offerengine",
			TokenExpiry:   "24h",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Scheduler: SchedulerConfig{
			LeaseTTL:         "5m",
			RotationMinutes:  14,
			FailureThreshold: 5,
			DrainTimeout:     "30s",
		},
		Mcdonalds: ThirdPartyConfig{
			Timeout: "10s",
		},
		ObjectStore: ObjectStoreConfig{},
	}
}

// LoadConfig loads configuration from files with environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validateRequired(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides walks the config struct tree and, for every field,
// checks an environment variable named after the field's `env` tag (if
// present) or its fully-qualified toml-tag path joined with "__" and
// upper-cased, per spec §6's double-underscore nesting convention
// (DATABASE__URL, MCDONALDS__CLIENT_ID). This generalizes the teacher's
// flat VIRE_* override function (internal/common/config.go in vire) into
// a reflection-based walker since the spec mandates a nesting convention
// the teacher never used.
func applyEnvOverrides(config *Config) {
	walkEnvOverrides(reflect.ValueOf(config).Elem(), nil)
}

func walkEnvOverrides(v reflect.Value, path []string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}

		envKey := field.Tag.Get("env")
		tomlTag := field.Tag.Get("toml")
		name := tomlTag
		if idx := strings.Index(name, ","); idx >= 0 {
			name = name[:idx]
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		fieldPath := append(append([]string{}, path...), name)

		if fv.Kind() == reflect.Struct {
			walkEnvOverrides(fv, fieldPath)
			continue
		}

		if envKey == "" {
			envKey = strings.ToUpper(strings.Join(fieldPath, "__"))
		}

		raw, ok := os.LookupEnv(envKey)
		if !ok || raw == "" {
			continue
		}
		setFieldFromEnv(fv, raw)
	}
}

func setFieldFromEnv(fv reflect.Value, raw string) {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fv.SetInt(n)
		}
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			fv.SetBool(b)
		}
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(raw, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			fv.Set(reflect.ValueOf(parts))
		}
	}
}

// validateRequired fails process startup if a required key is missing,
// per spec §6: "Missing required keys fail process startup."
func validateRequired(c *Config) error {
	var missing []string
	if c.Storage.URL == "" {
		missing = append(missing, "DATABASE__URL")
	}
	if c.Auth.Secret == "" {
		missing = append(missing, "AUTH_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
