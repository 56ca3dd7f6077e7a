package hub

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the hub server configuration, loaded from a JSON file.
// An empty Users map accepts any credentials.
type Config struct {
	Listen   string            `json:"listen"`
	DataRoot string            `json:"dataRoot"`
	Users    map[string]string `json:"users,omitempty"`
	LogLevel string            `json:"logLevel,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{Listen: ":8123", DataRoot: "data"}
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
