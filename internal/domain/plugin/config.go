package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// configFileName is the persisted plugin configuration file.
const configFileName = "plugins.json"

// Config is the persisted configuration object. A missing or corrupt file
// resets to the zero values of these maps rather than aborting startup.
type Config struct {
	// EnabledPlugins overrides the default-enabled state per plugin id.
	EnabledPlugins map[string]bool `json:"enabled_plugins"`
	// Settings holds per-plugin settings objects.
	Settings map[string]map[string]any `json:"settings"`
}

func defaultConfig() Config {
	return Config{
		EnabledPlugins: make(map[string]bool),
		Settings:       make(map[string]map[string]any),
	}
}

// ConfigStore persists the plugin configuration as whole-file JSON. It is
// safe for concurrent use within one process; multi-process writers are out
// of scope.
type ConfigStore struct {
	path string
	log  zerolog.Logger

	mu  sync.Mutex
	cfg Config
}

// NewConfigStore creates a store over <dir>/plugins.json and loads it.
func NewConfigStore(dir string, log zerolog.Logger) *ConfigStore {
	s := &ConfigStore{
		path: filepath.Join(dir, configFileName),
		log:  log,
		cfg:  defaultConfig(),
	}
	s.load()
	return s
}

// load reads the persisted file. Corruption is downgraded to a warning and
// an empty default; startup must never fail on bad config.
func (s *ConfigStore) load() {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("could not read plugin config; using defaults")
		return
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("corrupt plugin config; resetting to defaults")
		return
	}

	if cfg.EnabledPlugins == nil {
		cfg.EnabledPlugins = make(map[string]bool)
	}
	if cfg.Settings == nil {
		cfg.Settings = make(map[string]map[string]any)
	}
	s.cfg = cfg
}

// Save persists the whole configuration object. The write goes to a
// temporary file first and is renamed into place so a crash mid-write cannot
// corrupt the previous state.
func (s *ConfigStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *ConfigStore) saveLocked() error {
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plugin config: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing plugin config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing plugin config: %w", err)
	}
	return nil
}

// Enabled returns the persisted enabled override for a plugin, if any.
func (s *ConfigStore) Enabled(id string) (enabled, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled, ok = s.cfg.EnabledPlugins[id]
	return enabled, ok
}

// SetEnabled records a plugin's enabled state and persists.
func (s *ConfigStore) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.EnabledPlugins[id] = enabled
	return s.saveLocked()
}

// Remove drops a plugin from both maps and persists.
func (s *ConfigStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cfg.EnabledPlugins, id)
	delete(s.cfg.Settings, id)
	return s.saveLocked()
}

// Setting returns a copy of a plugin's settings object.
func (s *ConfigStore) Setting(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := make(map[string]any, len(s.cfg.Settings[id]))
	for k, v := range s.cfg.Settings[id] {
		settings[k] = v
	}
	return settings
}

// SetSetting stores one key of a plugin's settings object and persists.
func (s *ConfigStore) SetSetting(id, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Settings[id] == nil {
		s.cfg.Settings[id] = make(map[string]any)
	}
	s.cfg.Settings[id][key] = value
	return s.saveLocked()
}
