// Package manifest reads and writes named JSON inventories of artifacts.
// A manifest scopes a flow to the listed artifacts (input role), records
// successes (output role), or records local-only deletions (deletions
// role).
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	stdsync "sync"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// TierBase is the tenant tier that cannot hold multi-site artifacts.
const TierBase = "Base"

// ErrIncompatible is returned when a manifest's sections cannot be applied
// to the tenant's tier.
var ErrIncompatible = errors.New("manifest: incompatible with tenant tier")

// Entry is one artifact reference inside a section.
type Entry struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

// SiteEntry is the sites section's value: per-site metadata plus the pages
// that belong to it.
type SiteEntry struct {
	ContextRoot string           `json:"contextRoot,omitempty"`
	Status      string           `json:"status,omitempty"`
	Pages       map[string]Entry `json:"pages,omitempty"`
}

// Manifest is a named inventory of artifacts keyed by artifact type.
// Sections map artifact id to its entry; sites carry their own shape.
type Manifest struct {
	mu stdsync.Mutex

	Sections map[string]map[string]Entry
	Sites    map[string]SiteEntry
}

// multiSiteSections are rejected against Base-tier tenants.
var multiSiteSections = []string{"sites", "pages", "layouts", "layout-mappings"}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		Sections: make(map[string]map[string]Entry),
		Sites:    make(map[string]SiteEntry),
	}
}

// Load reads a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("manifest: parsing %s: %w", path, err)
	}

	m := New()

	for section, val := range raw {
		if section == "sites" {
			if err := json.Unmarshal(val, &m.Sites); err != nil {
				return nil, fmt.Errorf("manifest: parsing sites section of %s: %w", path, err)
			}

			continue
		}

		entries := make(map[string]Entry)
		if err := json.Unmarshal(val, &entries); err != nil {
			return nil, fmt.Errorf("manifest: parsing %s section of %s: %w", section, path, err)
		}

		m.Sections[section] = entries
	}

	return m, nil
}

// Save writes the manifest atomically (tmp + rename).
func (m *Manifest) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]any, len(m.Sections)+1)

	for section, entries := range m.Sections {
		if len(entries) > 0 {
			out[section] = entries
		}
	}

	if len(m.Sites) > 0 {
		out["sites"] = m.Sites
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: serializing %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("manifest: creating %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("manifest: writing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("manifest: renaming %s into place: %w", tmp, err)
	}

	return nil
}

// Names returns the section's entries as proxies, for scoping a flow.
func (m *Manifest) Names(section string) []artifact.Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()

	if section == "sites" {
		out := make([]artifact.Proxy, 0, len(m.Sites))
		for id, site := range m.Sites {
			out = append(out, artifact.Proxy{ID: id, Path: site.ContextRoot})
		}

		return out
	}

	entries := m.Sections[section]
	out := make([]artifact.Proxy, 0, len(entries))

	for id, e := range entries {
		out = append(out, artifact.Proxy{ID: id, Name: e.Name, Path: e.Path})
	}

	return out
}

// Append records items into the section, replacing entries with the same
// id. Sites go to the dedicated section shape.
func (m *Manifest) Append(section string, items []artifact.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if section == "sites" {
		for _, it := range items {
			m.Sites[it.ID()] = SiteEntry{
				ContextRoot: it.ContextRoot(),
				Status:      it.Status(),
				Pages:       m.Sites[it.ID()].Pages,
			}
		}

		return
	}

	entries := m.Sections[section]
	if entries == nil {
		entries = make(map[string]Entry)
		m.Sections[section] = entries
	}

	for _, it := range items {
		entries[it.ID()] = Entry{ID: it.ID(), Name: it.Name(), Path: it.Path()}
	}
}

// AppendProxies records proxies (used by deletions manifests, where only
// the local reference survives).
func (m *Manifest) AppendProxies(section string, proxies []artifact.Proxy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.Sections[section]
	if entries == nil {
		entries = make(map[string]Entry)
		m.Sections[section] = entries
	}

	for _, p := range proxies {
		key := p.ID
		if key == "" {
			key = p.Path
		}

		entries[key] = Entry{ID: p.ID, Name: p.Name, Path: p.Path}
	}
}

// CheckCompatibility rejects manifests that name multi-site artifacts when
// the tenant tier cannot hold them.
func (m *Manifest) CheckCompatibility(tier string) error {
	if tier != TierBase {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Sites) > 0 {
		return fmt.Errorf("%w: sites against a %s tier tenant", ErrIncompatible, tier)
	}

	for _, section := range multiSiteSections {
		if len(m.Sections[section]) > 0 {
			return fmt.Errorf("%w: %s against a %s tier tenant", ErrIncompatible, section, tier)
		}
	}

	return nil
}
