// Package config provides configuration management for MultiSocks.
// It supports loading configuration from a YAML file, CLI-provided
// overrides, and environment variable overrides, in that priority order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tboy1337/multisocks/pkg/protocol"
)

// Config holds the full runtime configuration for the multisocks listener.
type Config struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	Proxies   []string `yaml:"proxies" json:"proxies"`
	ProxyFile string   `yaml:"proxy_file" json:"proxy_file"`

	AutoOptimize bool `yaml:"auto_optimize" json:"auto_optimize"`
	NoConsole    bool `yaml:"no_console" json:"no_console"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	MaxConns    int           `yaml:"max_conns" json:"max_conns"`
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period"`

	FMax               int           `yaml:"f_max" json:"f_max"`
	ProbeInterval      time.Duration `yaml:"probe_interval" json:"probe_interval"`
	ReoptimizeInterval time.Duration `yaml:"reoptimize_interval" json:"reoptimize_interval"`
	MaxAttempts        int           `yaml:"max_attempts" json:"max_attempts"`
	OptimizerTargetURL string        `yaml:"optimizer_target_url" json:"optimizer_target_url"`
}

// Default returns configuration with sensible defaults, mirroring the
// tunables in pkg/protocol.
func Default() *Config {
	return &Config{
		Host:               "127.0.0.1",
		Port:               1080,
		AutoOptimize:       false,
		LogLevel:           "info",
		MaxConns:           0,
		GracePeriod:        10 * time.Second,
		FMax:               protocol.DefaultFMax,
		ProbeInterval:      protocol.DefaultProbeInterval * time.Second,
		ReoptimizeInterval: protocol.DefaultReoptimizeInterval * time.Minute,
		MaxAttempts:        protocol.DefaultMaxAttempts,
		OptimizerTargetURL: "https://speed.cloudflare.com/__down?bytes=10000000",
	}
}

// LoadFile reads and parses a YAML configuration file, overlaying its
// values onto a fresh Default().
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays MULTISOCKS_* environment variable overrides onto cfg.
// These take priority over both a loaded file and CLI flags.
func (c *Config) ApplyEnv() error {
	envMap := map[string]func(string) error{
		"MULTISOCKS_HOST": func(v string) error {
			if v != "" {
				c.Host = v
			}
			return nil
		},
		"MULTISOCKS_PORT": func(v string) error {
			if v == "" {
				return nil
			}
			p, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid MULTISOCKS_PORT: %w", err)
			}
			c.Port = p
			return nil
		},
		"MULTISOCKS_PROXY_FILE": func(v string) error {
			if v != "" {
				c.ProxyFile = v
			}
			return nil
		},
		"MULTISOCKS_AUTO_OPTIMIZE": func(v string) error {
			if v == "" {
				return nil
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid MULTISOCKS_AUTO_OPTIMIZE: %w", err)
			}
			c.AutoOptimize = b
			return nil
		},
		"MULTISOCKS_LOG_LEVEL": func(v string) error {
			if v != "" {
				c.LogLevel = v
			}
			return nil
		},
		"MULTISOCKS_MAX_CONNS": func(v string) error {
			if v == "" {
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid MULTISOCKS_MAX_CONNS: %w", err)
			}
			c.MaxConns = n
			return nil
		},
		"MULTISOCKS_F_MAX": func(v string) error {
			if v == "" {
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid MULTISOCKS_F_MAX: %w", err)
			}
			c.FMax = n
			return nil
		},
		"MULTISOCKS_PROBE_INTERVAL": func(v string) error {
			if v == "" {
				return nil
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid MULTISOCKS_PROBE_INTERVAL: %w", err)
			}
			c.ProbeInterval = d
			return nil
		},
		"MULTISOCKS_REOPTIMIZE_INTERVAL": func(v string) error {
			if v == "" {
				return nil
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid MULTISOCKS_REOPTIMIZE_INTERVAL: %w", err)
			}
			c.ReoptimizeInterval = d
			return nil
		},
		"MULTISOCKS_MAX_ATTEMPTS": func(v string) error {
			if v == "" {
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid MULTISOCKS_MAX_ATTEMPTS: %w", err)
			}
			c.MaxAttempts = n
			return nil
		},
		"MULTISOCKS_OPTIMIZER_TARGET_URL": func(v string) error {
			if v != "" {
				c.OptimizerTargetURL = v
			}
			return nil
		},
	}

	for envVar, apply := range envMap {
		if err := apply(os.Getenv(envVar)); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}

	if len(c.Proxies) == 0 && c.ProxyFile == "" {
		return fmt.Errorf("at least one of proxies or proxy_file is required")
	}

	if len(c.Proxies) > 0 && c.ProxyFile != "" {
		return fmt.Errorf("proxies and proxy_file are mutually exclusive")
	}

	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns must be non-negative")
	}

	if c.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be positive")
	}

	if c.FMax <= 0 {
		return fmt.Errorf("f_max must be positive")
	}

	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval must be positive")
	}

	if c.ReoptimizeInterval <= 0 {
		return fmt.Errorf("reoptimize_interval must be positive")
	}

	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}

	if c.AutoOptimize && c.OptimizerTargetURL == "" {
		return fmt.Errorf("optimizer_target_url is required when auto_optimize is enabled")
	}

	return nil
}
