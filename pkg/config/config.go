// Package config loads node configuration from an optional YAML file with
// environment variable overrides. Environment always wins, so a deployment
// can ship one file and tune individual nodes without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all node settings.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // "json" | "text"

	// DatabasePath is the SQLite file backing all stores. Empty selects
	// in-memory stores, which lose state on restart.
	DatabasePath string `yaml:"database_path"`

	// AuthorityKeyHex is the node's Ed25519 private key. Empty generates an
	// ephemeral key at startup; settled jobs from previous runs then fail
	// authority checks, so persistent deployments must set it.
	AuthorityKeyHex string `yaml:"authority_key_hex"`

	MaxAppendRetries int `yaml:"max_append_retries"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// OTLPEndpoint enables trace and metric export when non-empty.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Defaults returns the configuration a bare node starts with.
func Defaults() *Config {
	return &Config{
		ListenAddr:       ":8080",
		LogLevel:         "info",
		LogFormat:        "json",
		DatabasePath:     "",
		MaxAppendRetries: 5,
		RateLimitRPS:     50,
		RateLimitBurst:   100,
		ServiceName:      "agora-node",
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.MaxAppendRetries < 1 {
		return nil, fmt.Errorf("max_append_retries must be positive, got %d", cfg.MaxAppendRetries)
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst < 1 {
		return nil, fmt.Errorf("rate limit must be positive (rps %v, burst %d)", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "AGORA_LISTEN_ADDR")
	setString(&c.LogLevel, "AGORA_LOG_LEVEL")
	setString(&c.LogFormat, "AGORA_LOG_FORMAT")
	setString(&c.DatabasePath, "AGORA_DATABASE_PATH")
	setString(&c.AuthorityKeyHex, "AGORA_AUTHORITY_KEY_HEX")
	setString(&c.OTLPEndpoint, "AGORA_OTLP_ENDPOINT")
	setString(&c.ServiceName, "AGORA_SERVICE_NAME")
	setInt(&c.MaxAppendRetries, "AGORA_MAX_APPEND_RETRIES")
	setInt(&c.RateLimitBurst, "AGORA_RATE_LIMIT_BURST")
	setFloat(&c.RateLimitRPS, "AGORA_RATE_LIMIT_RPS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
