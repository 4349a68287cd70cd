// Package artifact defines the generic artifact model shared by the hub
// client, the local store, and the sync helpers. Artifacts are schema-free
// JSON documents — the engine only inspects a handful of well-known
// properties (id, rev, path, name, status, resource, lastModified, digest,
// contextRoot) and round-trips everything else untouched.
package artifact

import "strings"

// Lifecycle states for the status property.
const (
	StatusReady = "ready"
	StatusDraft = "draft"
)

// DraftSuffix is inserted before the extension of a draft asset's local
// filename (e.g. foo_wchdraft.jpg).
const DraftSuffix = "_wchdraft"

// ContentAssetRoot is the reserved path segment that classifies an asset as
// a content asset (managed, with a JSON metadata sidecar on disk).
const ContentAssetRoot = "dxdam/"

// Item is a schema-free artifact document. Accessor methods read the
// well-known properties; everything else is opaque payload that must
// round-trip to disk and to the hub byte-faithfully.
type Item map[string]any

func (it Item) str(key string) string {
	if it == nil {
		return ""
	}

	s, _ := it[key].(string)

	return s
}

// ID returns the tenant-unique artifact id, or "" if absent.
func (it Item) ID() string { return it.str("id") }

// Rev returns the server version token, or "" if absent.
func (it Item) Rev() string { return it.str("rev") }

// Name returns the display name, or "" if absent.
func (it Item) Name() string { return it.str("name") }

// Path returns the virtual root-relative path, or "" if absent.
func (it Item) Path() string { return it.str("path") }

// Status returns the lifecycle state ("ready" or "draft"), or "" if absent.
func (it Item) Status() string { return it.str("status") }

// Resource returns the id of the binary resource referenced by an asset.
func (it Item) Resource() string { return it.str("resource") }

// Digest returns the server-side base64 MD5 of an asset's binary.
func (it Item) Digest() string { return it.str("digest") }

// LastModified returns the server timestamp string, or "" if absent.
func (it Item) LastModified() string { return it.str("lastModified") }

// ContextRoot returns the site context root, or "" if absent.
func (it Item) ContextRoot() string { return it.str("contextRoot") }

// IsDraft reports whether the item carries draft status.
func (it Item) IsDraft() bool { return it.Status() == StatusDraft }

// IsContentAsset reports whether the item's path classifies it as a content
// asset (path begins with the reserved dxdam/ segment).
func (it Item) IsContentAsset() bool {
	p := strings.TrimPrefix(it.Path(), "/")

	return strings.HasPrefix(p, ContentAssetRoot)
}

// Clone returns a shallow copy of the item. Top-level keys can be added or
// removed on the copy without affecting the original; nested values are
// shared.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}

	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}

	return out
}

// BaseID strips the draft variant token from a compound id of the form
// "<baseId>:<variantToken>". Plain ids are returned unchanged.
func BaseID(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[:i]
	}

	return id
}

// IsVariantID reports whether the id carries a variant token.
func IsVariantID(id string) bool {
	return strings.IndexByte(id, ':') >= 0
}

// DraftFileName inserts the draft suffix before the last dot of name.
// Names without an extension get the suffix appended.
func DraftFileName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i] + DraftSuffix + name[i:]
	}

	return name + DraftSuffix
}

// ReadyFileName reverses DraftFileName. Names without the draft suffix are
// returned unchanged.
func ReadyFileName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return strings.TrimSuffix(name[:i], DraftSuffix) + name[i:]
	}

	return strings.TrimSuffix(name, DraftSuffix)
}

// IsDraftFileName reports whether the file name carries the draft suffix.
func IsDraftFileName(name string) bool {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return strings.HasSuffix(name[:i], DraftSuffix)
	}

	return strings.HasSuffix(name, DraftSuffix)
}

// Proxy is a lightweight stand-in for an artifact produced by directory or
// manifest listings. Files that fail to parse yield proxies with an empty ID
// so callers can still surface them.
type Proxy struct {
	ID   string
	Name string
	Path string

	// Extra carries additional properties requested by the lister
	// (e.g. status, resource) keyed by property name.
	Extra map[string]any
}

// ProxyOf builds a proxy from an item.
func ProxyOf(it Item) Proxy {
	return Proxy{ID: it.ID(), Name: it.Name(), Path: it.Path()}
}
