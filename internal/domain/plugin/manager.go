package plugin

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pipewise/pipewise/internal/domain/plugin/luahost"
)

// Manager owns plugin discovery, persisted enable state, the lifecycle state
// machine, and the install-from-marketplace pipeline. One Manager instance
// assumes exclusive ownership of its plugin root; cross-process coordination
// is out of scope.
type Manager struct {
	pluginDir   string
	configDir   string
	hostVersion string
	log         zerolog.Logger
	config      *ConfigStore
	nodes       NodeSink
	credentials luahost.CredentialStore
	client      *http.Client

	mu      sync.RWMutex
	plugins map[string]*InstalledPlugin
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithNodeSink sets the capability-registration sink loaded plugins expose
// node types through. Defaults to an in-memory registry.
func WithNodeSink(sink NodeSink) ManagerOption {
	return func(m *Manager) { m.nodes = sink }
}

// WithCredentialStore sets the store plugin code can query via the SDK.
func WithCredentialStore(store luahost.CredentialStore) ManagerOption {
	return func(m *Manager) { m.credentials = store }
}

// WithHTTPClient overrides the client used for archive downloads (testing).
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) { m.client = client }
}

// WithHostVersion sets the host version manifests are checked against.
func WithHostVersion(version string) ManagerOption {
	return func(m *Manager) { m.hostVersion = version }
}

// NewManager creates a manager over the given plugin root and config
// directory, creating both if missing, and loads the persisted configuration.
func NewManager(pluginDir, configDir string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		pluginDir:   pluginDir,
		configDir:   configDir,
		hostVersion: DefaultMinHostVersion,
		log:         zerolog.Nop(),
		client:      &http.Client{Timeout: downloadTimeout},
		plugins:     make(map[string]*InstalledPlugin),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.nodes == nil {
		m.nodes = NewNodeRegistry()
	}

	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating plugin directory: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	m.config = NewConfigStore(configDir, m.log)
	return m, nil
}

// PluginDir returns the plugin root directory.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}

// DiscoverPlugins rescans the plugin root and fully replaces the in-memory
// index. Directories without a parsable manifest are skipped and logged.
// Module handles for plugins no longer on disk are abandoned; callers that
// need clean teardown disable plugins before rescanning.
func (m *Manager) DiscoverPlugins() ([]*InstalledPlugin, error) {
	entries, err := os.ReadDir(m.pluginDir)
	if err != nil {
		return nil, fmt.Errorf("reading plugin directory: %w", err)
	}

	discovered := make(map[string]*InstalledPlugin)
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == stagingDirName {
			continue
		}

		dir := filepath.Join(m.pluginDir, entry.Name())
		manifest, err := LoadManifestFromDir(dir)
		if err != nil {
			derr := &DiscoveryError{Path: dir, Err: err}
			m.log.Warn().Err(derr).Msg("skipping plugin directory")
			continue
		}

		if !manifest.CompatibleWith(m.hostVersion) {
			m.log.Warn().
				Str("plugin", manifest.ID).
				Str("min_host_version", manifest.MinHostVersion).
				Str("host_version", m.hostVersion).
				Msg("plugin requires a newer host version")
		}

		enabled := true
		if override, ok := m.config.Enabled(manifest.ID); ok {
			enabled = override
		}

		lc, err := newLifecycle()
		if err != nil {
			return nil, err
		}

		p := &InstalledPlugin{
			Manifest:    *manifest,
			Path:        dir,
			Enabled:     enabled,
			InstalledAt: manifest.InstalledAt,
			UpdatedAt:   manifest.UpdatedAt,
			lifecycle:   lc,
		}
		discovered[manifest.ID] = p
	}

	// Replace the index wholesale. Module handles of vanished plugins are
	// abandoned, not unloaded; the lifecycle interpreters do get stopped.
	m.mu.Lock()
	for _, old := range m.plugins {
		if old.lifecycle != nil {
			old.lifecycle.stop()
		}
	}
	m.plugins = discovered
	m.mu.Unlock()

	return m.List(), nil
}

// Plugin returns a snapshot of one installed plugin.
func (m *Manager) Plugin(id string) (*InstalledPlugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plugins[id]
	if !ok {
		return nil, false
	}
	return p.Snapshot(), true
}

// List returns snapshots of all installed plugins, sorted by id.
func (m *Manager) List() []*InstalledPlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]*InstalledPlugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		plugins = append(plugins, p.Snapshot())
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest.ID < plugins[j].Manifest.ID
	})
	return plugins
}

// EnabledPlugins returns snapshots of all enabled plugins, sorted by id.
func (m *Manager) EnabledPlugins() []*InstalledPlugin {
	enabled := make([]*InstalledPlugin, 0)
	for _, p := range m.List() {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// Enable marks a plugin enabled, persists that decision, and attempts to
// load its entry module. Returns false for an unknown id. A load failure is
// logged and swallowed: the plugin stays "enabled but not loaded" and a
// later Enable call retries the load. The enabled flag is deliberately not
// rolled back on load failure.
func (m *Manager) Enable(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plugins[id]
	if !ok {
		m.log.Warn().Str("plugin", id).Msg("enable requested for unknown plugin")
		return false
	}

	p.Enabled = true
	p.lifecycle.signal(eventEnable)
	if err := m.config.SetEnabled(id, true); err != nil {
		m.log.Error().Err(err).Str("plugin", id).Msg("could not persist plugin config")
	}

	if p.module == nil {
		m.loadModuleLocked(p)
	}
	return true
}

// Disable marks a plugin disabled, persists that decision, runs the unload
// hook if the module is loaded, and releases the module handle along with
// the plugin's node registrations. Returns false for an unknown id.
func (m *Manager) Disable(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableLocked(id)
}

func (m *Manager) disableLocked(id string) bool {
	p, ok := m.plugins[id]
	if !ok {
		m.log.Warn().Str("plugin", id).Msg("disable requested for unknown plugin")
		return false
	}

	p.Enabled = false
	p.lifecycle.signal(eventDisable)
	if err := m.config.SetEnabled(id, false); err != nil {
		m.log.Error().Err(err).Str("plugin", id).Msg("could not persist plugin config")
	}

	m.unloadModuleLocked(p)
	return true
}

// Uninstall disables a plugin (guaranteeing its unload hook runs), deletes
// its directory, and removes it from the index and persisted configuration.
// The whole sequence runs under one lock acquisition so a concurrent rescan
// cannot drop the record mid-removal. Returns false for an unknown id or
// when deletion fails; a failed deletion may leave a partially removed
// directory behind.
func (m *Manager) Uninstall(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.disableLocked(id) {
		return false
	}

	p := m.plugins[id]
	if err := os.RemoveAll(p.Path); err != nil {
		m.log.Error().Err(err).Str("plugin", id).Msg("could not delete plugin directory")
		return false
	}

	p.lifecycle.signal(eventUninstall)
	p.lifecycle.stop()
	delete(m.plugins, id)

	if err := m.config.Remove(id); err != nil {
		m.log.Error().Err(err).Str("plugin", id).Msg("could not persist plugin config")
	}
	return true
}

// NodeTypes returns the namespaced node types currently registered, when the
// configured sink supports enumeration. The default registry does.
func (m *Manager) NodeTypes() []string {
	if lister, ok := m.nodes.(interface{ NodeTypes() []string }); ok {
		return lister.NodeTypes()
	}
	return nil
}

// Setting returns a plugin's persisted settings object.
func (m *Manager) Setting(id string) map[string]any {
	return m.config.Setting(id)
}

// SetSetting persists one key of a plugin's settings object.
func (m *Manager) SetSetting(id, key string, value any) error {
	return m.config.SetSetting(id, key, value)
}

// loadModuleLocked loads a plugin's entry module and registers its exported
// node types. Failures are logged, never propagated; the enabled flag stays.
func (m *Manager) loadModuleLocked(p *InstalledPlugin) {
	module, err := luahost.Open(p.Path, luahost.Options{
		PluginID:    p.Manifest.ID,
		Credentials: m.credentials,
		Log:         m.log,
	})
	if err != nil {
		m.log.Error().Err(err).Str("plugin", p.Manifest.ID).Msg("could not load plugin module")
		return
	}

	if err := module.CallLoad(); err != nil {
		m.log.Error().Err(err).Str("plugin", p.Manifest.ID).Msg("plugin load hook failed")
		module.Close()
		return
	}

	p.module = module
	for _, node := range p.Manifest.Nodes {
		if err := m.nodes.RegisterNode(p.Manifest.ID, node); err != nil {
			m.log.Warn().Err(err).Str("plugin", p.Manifest.ID).Str("node", node).Msg("could not register node type")
		}
	}
	m.log.Info().Str("plugin", p.Manifest.ID).Int("nodes", len(p.Manifest.Nodes)).Msg("plugin loaded")
}

// unloadModuleLocked runs the unload hook (errors logged and swallowed),
// releases the module handle, and drops the plugin's node registrations.
func (m *Manager) unloadModuleLocked(p *InstalledPlugin) {
	if p.module == nil {
		return
	}

	if err := p.module.CallUnload(); err != nil {
		m.log.Warn().Err(err).Str("plugin", p.Manifest.ID).Msg("plugin unload hook failed")
	}
	p.module.Close()
	p.module = nil

	removed := m.nodes.UnregisterPlugin(p.Manifest.ID)
	m.log.Info().Str("plugin", p.Manifest.ID).Int("nodes", removed).Msg("plugin unloaded")
}
