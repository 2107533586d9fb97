package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the dtc section.
const (
	EnvHost     = "DTC_HOST"
	EnvPort     = "DTC_PORT"
	EnvUsername = "DTC_USERNAME"
	EnvPassword = "DTC_PASSWORD"
)

// Load reads a YAML config file, expands environment variables and applies
// DTC_* overrides.
func Load(path string) (*FeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg FeedConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*FeedConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*FeedConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a config from DTC_* variables and defaults, for running
// without a file.
func FromEnv() (*FeedConfig, error) {
	cfg := &FeedConfig{}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *FeedConfig) applyEnv() error {
	if v := os.Getenv(EnvHost); v != "" {
		c.DTC.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.DTC.Port = port
	}
	if v := os.Getenv(EnvUsername); v != "" {
		c.DTC.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.DTC.Password = v
	}
	return nil
}
