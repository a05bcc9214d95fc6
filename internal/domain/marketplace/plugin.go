// Package marketplace aggregates plugin catalogs from multiple remote sources.
package marketplace

import "time"

// SourceKind identifies which remote catalog a search result came from.
type SourceKind string

const (
	// SourceOfficial is the curated Pipewise plugin registry.
	SourceOfficial SourceKind = "official"
	// SourceGitHub is topic-tagged GitHub repository search.
	SourceGitHub SourceKind = "github"
	// SourceNPM is keyword-filtered npm package search.
	SourceNPM SourceKind = "npm"
	// SourceURL is a plugin referenced by a direct archive URL.
	SourceURL SourceKind = "url"
)

// Plugin is a transient search-result DTO describing a plugin available for
// installation. It is never persisted beyond the in-process cache window.
type Plugin struct {
	// ID is the install-directory identifier of the plugin
	ID string `json:"id"`
	// Name is the display name
	Name string `json:"name"`
	// Version is the latest published version
	Version string `json:"version"`
	// Description is a short description
	Description string `json:"description,omitempty"`
	// Author is the plugin author
	Author string `json:"author,omitempty"`
	// Downloads is the source-reported download count
	Downloads int `json:"downloads"`
	// Rating is a source-defined quality score
	Rating float64 `json:"rating"`
	// Categories are source-defined tags
	Categories []string `json:"categories,omitempty"`
	// IconURL points at the plugin icon, if any
	IconURL string `json:"icon_url,omitempty"`
	// DownloadURL is the archive the install pipeline fetches
	DownloadURL string `json:"download_url"`
	// Verified indicates the entry is vetted by the official registry
	Verified bool `json:"is_verified"`
	// Featured indicates prioritized display in the official registry
	Featured bool `json:"is_featured"`
	// Source identifies the catalog this result came from
	Source SourceKind `json:"source"`
	// SourceURL is the human-facing page for the plugin
	SourceURL string `json:"source_url,omitempty"`
	// Stars is the repository star count (code-host results)
	Stars int `json:"stars"`
	// Forks is the repository fork count (code-host results)
	Forks int `json:"forks"`
	// CreatedAt is when the plugin was first published
	CreatedAt time.Time `json:"created_at,omitzero"`
	// UpdatedAt is when the plugin was last updated
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Popularity is the merge-ranking key used by the aggregator.
func (p *Plugin) Popularity() int {
	return p.Stars + p.Downloads
}
