package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	// DefaultAPIBaseURL points at the MoveInn REST backend.
	DefaultAPIBaseURL = "https://localhost:7023/api"
	// DefaultChannelURL points at the MoveInn WebSocket endpoint.
	DefaultChannelURL = "wss://localhost:7023/api/WebSocket/ws"
)

// Config represents the global ~/.minn/config.toml.
type Config struct {
	APIBaseURL     string `toml:"api_base_url"`
	ChannelURL     string `toml:"channel_url"`
	DefaultSession string `toml:"default_session"`
}

// Load reads config from the given path and applies environment overrides.
// A .env file in the working directory is honoured (godotenv); real
// environment variables win over it. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the built-in defaults
// instead of an error.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
		cfg.applyEnv()
		cfg.applyDefaults()
	}
	return cfg
}

func (c *Config) applyEnv() {
	_ = godotenv.Load()
	if v := os.Getenv("MINN_API_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("MINN_CHANNEL_URL"); v != "" {
		c.ChannelURL = v
	}
	if v := os.Getenv("MINN_SESSION"); v != "" {
		c.DefaultSession = v
	}
}

func (c *Config) applyDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if c.ChannelURL == "" {
		c.ChannelURL = DefaultChannelURL
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
