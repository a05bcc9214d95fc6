// Package config loads the host configuration for the Pipewise CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the host-level configuration. Everything has a working default;
// the file is optional.
type Config struct {
	// PluginDir is the plugin root directory.
	PluginDir string `toml:"plugin_dir"`
	// ConfigDir holds persisted plugin state.
	ConfigDir string `toml:"config_dir"`
	// RegistryURL overrides the official plugin registry document URL.
	RegistryURL string `toml:"registry_url"`
	// Sources selects which marketplace sources to query; empty means all.
	Sources []string `toml:"sources"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pipewise.toml"
	}
	return filepath.Join(home, ".pipewise", "config.toml")
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".pipewise")
	return Config{
		PluginDir: filepath.Join(base, "plugins"),
		ConfigDir: filepath.Join(base, "config"),
	}
}

// Load reads a TOML config file, layering it over the defaults. A missing
// file yields the defaults; a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
