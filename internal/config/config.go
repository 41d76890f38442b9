// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	RabbitMQ struct {
		URL string `yaml:"url"`
	} `yaml:"rabbitmq"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret  string        `yaml:"jwt_secret"`
		AdminToken string        `yaml:"admin_token"`
		TokenTTL   time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Broadcast BroadcastDefaults `yaml:"broadcast"`

	Progress struct {
		TTL         time.Duration `yaml:"ttl"`
		MaxErrors   int           `yaml:"max_errors"`
		MaxErrorLen int           `yaml:"max_error_len"`
	} `yaml:"progress"`

	Provider struct {
		BaseURL    string        `yaml:"base_url"`
		RatePerSec int           `yaml:"rate_per_sec"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"provider"`

	Log struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`
}

// BroadcastDefaults seeds every tenant queue that has no stored override.
type BroadcastDefaults struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	MinIntervalMs int `yaml:"min_interval_ms"`
	Retries       int `yaml:"retries"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills zero values. Explicit zeros for min_interval_ms and
// retries are valid settings and are left alone.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Broadcast.MaxConcurrent <= 0 {
		c.Broadcast.MaxConcurrent = 1
	}
	if c.Progress.TTL <= 0 {
		c.Progress.TTL = 24 * time.Hour
	}
	if c.Progress.MaxErrors <= 0 {
		c.Progress.MaxErrors = 50
	}
	if c.Progress.MaxErrorLen <= 0 {
		c.Progress.MaxErrorLen = 200
	}
	if c.Provider.RatePerSec <= 0 {
		c.Provider.RatePerSec = 20
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url is required"))
	}
	if c.Broadcast.MinIntervalMs < 0 {
		errs = append(errs, errors.New("broadcast.min_interval_ms must not be negative"))
	}
	if c.Broadcast.Retries < 0 {
		errs = append(errs, errors.New("broadcast.retries must not be negative"))
	}
	return errors.Join(errs...)
}
