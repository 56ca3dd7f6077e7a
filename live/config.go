package live

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ConfigVersion is the session config format written by this package.
// Joining rejects configs whose major version differs.
const ConfigVersion = "1.0"

// SessionConfig is the __session__.toml file. Admin is the only user
// allowed to merge the session.
type SessionConfig struct {
	Version     string `toml:"version"`
	Name        string `toml:"name"`
	Admin       string `toml:"admin"`
	StageURL    string `toml:"stage_url"`
	Mode        string `toml:"mode"`
	Description string `toml:"description,omitempty"`
}

func parseConfig(b []byte) (*SessionConfig, error) {
	cfg := &SessionConfig{}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if majorVersion(cfg.Version) != majorVersion(ConfigVersion) {
		return nil, fmt.Errorf("session config version %q: %w", cfg.Version, ErrVersion)
	}
	return cfg, nil
}

func (cfg *SessionConfig) marshal() ([]byte, error) {
	return toml.Marshal(cfg)
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}
