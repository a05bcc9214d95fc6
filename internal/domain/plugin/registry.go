package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// NodeSink is the capability-registration sink the host supplies. Loaded
// plugins expose workflow-node types through it; the manager registers a
// plugin's nodes on enable and releases them on disable/uninstall.
type NodeSink interface {
	// RegisterNode registers one node type under its namespaced key
	// ("<pluginID>.<node>").
	RegisterNode(pluginID, node string) error

	// UnregisterPlugin releases every node registered for a plugin and
	// returns how many were removed.
	UnregisterPlugin(pluginID string) int
}

// NodeRegistry is the default in-memory NodeSink, thread-safe, suitable for
// tests and single-instance hosts.
type NodeRegistry struct {
	mu    sync.RWMutex
	nodes map[string]string // namespaced key -> plugin id
}

// NewNodeRegistry creates an empty node registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{nodes: make(map[string]string)}
}

// RegisterNode registers a node type under "<pluginID>.<node>".
func (r *NodeRegistry) RegisterNode(pluginID, node string) error {
	if pluginID == "" || node == "" {
		return fmt.Errorf("plugin id and node name are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := pluginID + "." + node
	if owner, exists := r.nodes[key]; exists {
		return fmt.Errorf("node %q already registered by plugin %q", key, owner)
	}
	r.nodes[key] = pluginID
	return nil
}

// UnregisterPlugin removes every node registered under the plugin's namespace.
func (r *NodeRegistry) UnregisterPlugin(pluginID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, owner := range r.nodes {
		if owner == pluginID {
			delete(r.nodes, key)
			removed++
		}
	}
	return removed
}

// NodeTypes returns all registered namespaced node keys, sorted.
func (r *NodeRegistry) NodeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.nodes))
	for key := range r.nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var _ NodeSink = (*NodeRegistry)(nil)
