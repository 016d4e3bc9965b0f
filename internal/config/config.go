package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the shell's local, non-protocol preferences: whether the
// client colors its output, whether dispatches are audited, and where
// the audit database lives. None of this affects the wire protocol or
// the hardcoded socket paths (spec §6) — it only shapes ambient behavior.
type Config struct {
	Color   bool   `yaml:"color"`
	Audit   bool   `yaml:"audit"`
	AuditDB string `yaml:"audit_db,omitempty"`
}

// Default returns the built-in configuration used when no config file is
// present.
func Default() *Config {
	return &Config{
		Color:   true,
		Audit:   true,
		AuditDB: "", // resolved against the config dir by AuditDBPath
	}
}

// Load reads dir/config.yaml, falling back to Default() if it doesn't
// exist. A present-but-malformed file is an error.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to dir/config.yaml, creating dir if necessary.
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// AuditDBPath returns the configured audit database path as is, or, when
// none is configured, audit.db inside dir.
func (c *Config) AuditDBPath(dir string) string {
	if c.AuditDB != "" {
		return c.AuditDB
	}
	return filepath.Join(dir, "audit.db")
}
