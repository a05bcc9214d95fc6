// Package plugin provides plugin discovery, lifecycle management, and
// installation from marketplace sources.
package plugin

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/mod/semver"
)

const (
	// ManifestFileName is the fixed manifest file every plugin directory
	// must contain.
	ManifestFileName = "manifest.json"

	// maxManifestSize limits manifest file size to prevent memory
	// exhaustion (256KB).
	maxManifestSize int64 = 256 * 1024

	// DefaultLicense is assumed when a manifest omits one.
	DefaultLicense = "MIT"

	// DefaultMinHostVersion is assumed when a manifest omits one.
	DefaultMinHostVersion = "1.0.0"
)

// idPattern validates plugin identifiers, which double as directory names.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// versionPattern validates version strings (simplified semver).
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// Manifest describes a plugin's identity and exports. Authors create it;
// the manager only ever stamps timestamps into it on install.
type Manifest struct {
	// ID is the unique identifier, matching the install directory name
	ID string `json:"id"`
	// Name is the human-readable name
	Name string `json:"name"`
	// Version is the semantic version
	Version string `json:"version"`
	// Description is a short description
	Description string `json:"description,omitempty"`
	// Author is the plugin author
	Author string `json:"author,omitempty"`
	// AuthorURL links to the author's page
	AuthorURL string `json:"author_url,omitempty"`
	// Homepage is the plugin homepage URL
	Homepage string `json:"homepage,omitempty"`
	// Repository is the source repository URL
	Repository string `json:"repository,omitempty"`
	// License is the SPDX license identifier (default "MIT")
	License string `json:"license,omitempty"`
	// MinHostVersion is the minimum Pipewise version required (default "1.0.0")
	MinHostVersion string `json:"min_host_version,omitempty"`
	// Keywords are searchable tags; insertion order is irrelevant
	Keywords []string `json:"keywords,omitempty"`
	// Nodes are the workflow-node types the plugin exports, in order
	Nodes []string `json:"nodes,omitempty"`
	// Dependencies maps external package names to version constraints
	Dependencies map[string]string `json:"dependencies,omitempty"`
	// InstalledAt is stamped by the installer
	InstalledAt time.Time `json:"installed_at,omitzero"`
	// UpdatedAt is stamped by the installer
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() Manifest {
	out := *m
	if m.Keywords != nil {
		out.Keywords = append([]string(nil), m.Keywords...)
	}
	if m.Nodes != nil {
		out.Nodes = append([]string(nil), m.Nodes...)
	}
	if m.Dependencies != nil {
		out.Dependencies = make(map[string]string, len(m.Dependencies))
		for k, v := range m.Dependencies {
			out.Dependencies[k] = v
		}
	}
	return out
}

// applyDefaults fills fields the author may omit.
func (m *Manifest) applyDefaults() {
	if m.License == "" {
		m.License = DefaultLicense
	}
	if m.MinHostVersion == "" {
		m.MinHostVersion = DefaultMinHostVersion
	}
}

// Validate checks the manifest's required fields.
func (m *Manifest) Validate() error {
	verr := &ValidationError{}
	if m.ID == "" {
		verr.Add("id is required")
	} else if !idPattern.MatchString(m.ID) {
		verr.Addf("id %q must be lowercase alphanumeric with ._- separators", m.ID)
	}
	if m.Name == "" {
		verr.Add("name is required")
	}
	if m.Version == "" {
		verr.Add("version is required")
	} else if !versionPattern.MatchString(m.Version) {
		verr.Addf("version %q must be valid semver", m.Version)
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// CompatibleWith reports whether the manifest's minimum host version is
// satisfied by the given host version.
func (m *Manifest) CompatibleWith(hostVersion string) bool {
	minV, hostV := "v"+m.MinHostVersion, "v"+hostVersion
	if !semver.IsValid(minV) || !semver.IsValid(hostV) {
		return true // unparsable constraints never block
	}
	return semver.Compare(minV, hostV) <= 0
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, ErrManifestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", ManifestFileName, err)
	}
	if info.Size() > maxManifestSize {
		return nil, fmt.Errorf("manifest size %d exceeds limit of %d bytes", info.Size(), maxManifestSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", ManifestFileName, err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ManifestFileName, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestFileName, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// LoadManifestFromDir reads a plugin directory's manifest.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFileName))
}

// stampTimestamps rewrites a manifest file with fresh installed_at/updated_at
// values. It round-trips through a generic map so author-supplied fields the
// Manifest struct does not know about survive the rewrite.
func stampTimestamps(dir string, now time.Time) error {
	path := filepath.Join(dir, ManifestFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", ManifestFileName, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", ManifestFileName, err)
	}

	stamp := now.UTC().Format(time.RFC3339)
	doc["installed_at"] = stamp
	doc["updated_at"] = stamp

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ManifestFileName, err)
	}
	return os.WriteFile(path, out, 0o644)
}
