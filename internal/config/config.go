// Package config loads the gateway configuration: an optional YAML base
// document with environment variable overrides on top. Environment
// always wins so container deployments can run file-free.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML string parsing ("30s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	PublicURL    string   `yaml:"public_url"`
	AdminKey     string   `yaml:"admin_key"`
	APIKey       string   `yaml:"api_key"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// PaymentConfig covers the x402 side.
type PaymentConfig struct {
	PayToAddress         string `yaml:"pay_to_address"`
	Network              string `yaml:"network"`
	FacilitatorURL       string `yaml:"facilitator_url"`
	FacilitatorKeyID     string `yaml:"facilitator_key_id"`
	FacilitatorKeySecret string `yaml:"facilitator_key_secret"`
}

// RoutesConfig covers route and blocklist persistence.
type RoutesConfig struct {
	File          string `yaml:"file"`
	BlocklistFile string `yaml:"blocklist_file"`
}

// ReplayConfig covers replay suppression.
type ReplayConfig struct {
	TTL Duration `yaml:"ttl"`
}

// LoggingConfig mirrors the logger package's knobs.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Environment string `yaml:"environment"`
}

// AnchorConfig covers the optional on-chain receipt anchoring.
type AnchorConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RPCURL        string `yaml:"rpc_url"`
	PrivateKeyHex string `yaml:"private_key_hex"`
	ChainID       int64  `yaml:"chain_id"`
}

// Config is the full gateway configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Payment PaymentConfig `yaml:"payment"`
	Routes  RoutesConfig  `yaml:"routes"`
	Replay  ReplayConfig  `yaml:"replay"`
	Logging LoggingConfig `yaml:"logging"`
	Anchor  AnchorConfig  `yaml:"anchor"`
}

// Load reads the YAML file at path (optional; empty path or missing
// file is fine), applies env overrides, then defaults and validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize applies defaults and validates.
func (c *Config) finalize() error {
	if c.Server.Port == 0 {
		c.Server.Port = 4402
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout.Duration = 30 * time.Second
	}
	if c.Server.WriteTimeout.Duration == 0 {
		c.Server.WriteTimeout.Duration = 60 * time.Second
	}
	if c.Payment.Network == "" {
		c.Payment.Network = "base-sepolia"
	}
	if c.Payment.FacilitatorURL == "" {
		c.Payment.FacilitatorURL = "https://x402.org/facilitator"
	}
	if c.Replay.TTL.Duration == 0 {
		c.Replay.TTL.Duration = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}

	if c.Payment.PayToAddress == "" {
		return fmt.Errorf("config: pay_to_address is required (set PAY_TO_ADDRESS)")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Anchor.Enabled {
		if c.Anchor.RPCURL == "" || c.Anchor.PrivateKeyHex == "" || c.Anchor.ChainID == 0 {
			return fmt.Errorf("config: anchor enabled but rpc_url, private_key_hex and chain_id are not all set")
		}
	}
	return nil
}

// ListenAddr renders the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
