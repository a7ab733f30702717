// Package config loads server configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the serve-mode settings. The engine itself needs none of
// this; configuration exists only at the collaborator boundary.
type Config struct {
	Server struct {
		// Addr is the HTTP listen address.
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database struct {
		// Path is the SQLite database file. Empty disables persistence.
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		// URL is the Redis connection URL. Empty disables the idempotency
		// cache.
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Idempotency struct {
		// TTLSeconds bounds cached response lifetime. Zero means no expiry.
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"idempotency"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Idempotency.TTLSeconds = 3600
	return cfg
}

// Load reads the YAML file at path (when non-empty) over the defaults,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STEPFLOW_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("STEPFLOW_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STEPFLOW_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("STEPFLOW_IDEMPOTENCY_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Idempotency.TTLSeconds = n
		}
	}
}

// IdempotencyTTL returns the configured TTL as a duration.
func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Idempotency.TTLSeconds) * time.Second
}
