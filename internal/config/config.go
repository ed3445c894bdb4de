package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config models claimline.yml.
type Config struct {
	Store struct {
		Backend string `yaml:"backend"`
	} `yaml:"store"`
	Server struct {
		Listen   string `yaml:"listen"`
		BasePath string `yaml:"base_path"`
		Auth     struct {
			JWTSecret        string `yaml:"jwt_secret"`
			AllowActorHeader bool   `yaml:"allow_actor_header"`
		} `yaml:"auth"`
	} `yaml:"server"`
}

// Load reads and validates config from a workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it or use defaults via clm", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("store.backend must be %q or %q", BackendFile, BackendSQLite)
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "claimline.yml")
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	cfg.Store.Backend = BackendFile
	cfg.Server.Listen = "127.0.0.1:8931"
	cfg.Server.BasePath = "/v0"
	cfg.Server.Auth.AllowActorHeader = true
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted fields
// fall back to defaults before validation.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = Default().Server.Listen
	}
	if cfg.Server.BasePath == "" {
		cfg.Server.BasePath = Default().Server.BasePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
