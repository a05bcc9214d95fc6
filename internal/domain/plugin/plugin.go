package plugin

import (
	"fmt"
	"time"

	"github.com/pipewise/pipewise/internal/domain/plugin/luahost"
)

// InstalledPlugin is one plugin found under the plugin root. The manager
// exclusively owns the module handle; it is non-nil if and only if the
// plugin is currently enabled and its entry module loaded successfully.
type InstalledPlugin struct {
	// Manifest is the parsed manifest.json
	Manifest Manifest
	// Path is the plugin's install directory
	Path string
	// Enabled mirrors the persisted enabled state
	Enabled bool
	// InstalledAt is when the plugin was installed
	InstalledAt time.Time
	// UpdatedAt is when the plugin was last updated
	UpdatedAt time.Time

	module    *luahost.Module
	lifecycle *lifecycle
}

// ID returns the plugin identifier.
func (p *InstalledPlugin) ID() string {
	return p.Manifest.ID
}

// Loaded reports whether the plugin's entry module is currently loaded.
func (p *InstalledPlugin) Loaded() bool {
	return p.module != nil
}

// State returns the plugin's lifecycle state.
func (p *InstalledPlugin) State() State {
	if p.lifecycle == nil {
		return StateDiscovered
	}
	return p.lifecycle.state()
}

// Snapshot returns a copy safe to hand out of the manager: the module handle
// and lifecycle machine stay behind.
func (p *InstalledPlugin) Snapshot() *InstalledPlugin {
	return &InstalledPlugin{
		Manifest:    p.Manifest.Clone(),
		Path:        p.Path,
		Enabled:     p.Enabled,
		InstalledAt: p.InstalledAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// String returns a human-readable plugin description.
func (p *InstalledPlugin) String() string {
	return fmt.Sprintf("%s@%s", p.Manifest.ID, p.Manifest.Version)
}
