// Package hashes implements the per-tenant change-tracking index stored in
// the .wchtoolshashes file at the working-directory root. The index maps
// artifact ids to the revision, MD5, path, and timestamps last observed
// locally, and carries the pull/push watermarks that back modified-since
// flows.
package hashes

import (
	"encoding/json"
	"fmt"
)

// File names and the on-disk format version.
const (
	FileName       = ".wchtoolshashes"
	legacyFileName = ".dxhashes"
	FormatVersion  = "2"
)

// Reserved keys inside a tenant object. Every other key is an artifact or
// resource id.
const (
	keyLastPull = "lastPullTimestamp"
	keyLastPush = "lastPushTimestamp"
	keyBaseURLs = "baseUrls"
)

// Entry is the tracked state of one artifact (or one resource, keyed by
// resource id with only the MD5/path fields populated).
type Entry struct {
	Rev                       string `json:"rev,omitempty"`
	LastModified              string `json:"lastModified,omitempty"`
	MD5                       string `json:"md5,omitempty"`
	Path                      string `json:"path,omitempty"`
	LocalLastModified         string `json:"localLastModified,omitempty"`
	Resource                  string `json:"resource,omitempty"`
	ResourcePath              string `json:"resourcePath,omitempty"`
	ResourceMD5               string `json:"resourceMD5,omitempty"`
	ResourceLocalLastModified string `json:"resourceLocalLastModified,omitempty"`
	ContentType               string `json:"contentType,omitempty"`
}

// Timestamp is a pull or push watermark. Most services carry a single
// value; the assets service splits into web and content sub-kinds so a pull
// restricted to one does not invalidate the other. A legacy single string
// read from disk populates Value, and both sub-kinds inherit it.
type Timestamp struct {
	Value         string
	WebAssets     string
	ContentAssets string
}

// IsZero reports whether no watermark has been recorded.
func (t Timestamp) IsZero() bool {
	return t.Value == "" && t.WebAssets == "" && t.ContentAssets == ""
}

// splitTimestamp is the JSON object form of an asset timestamp.
type splitTimestamp struct {
	WebAssets     string `json:"webAssets,omitempty"`
	ContentAssets string `json:"contentAssets,omitempty"`
}

// MarshalJSON writes the object form when sub-kinds are present, the plain
// string otherwise.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.WebAssets != "" || t.ContentAssets != "" {
		return json.Marshal(splitTimestamp{WebAssets: t.WebAssets, ContentAssets: t.ContentAssets})
	}

	return json.Marshal(t.Value)
}

// UnmarshalJSON accepts both the plain string and the split object forms.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Timestamp{Value: s}

		return nil
	}

	var st splitTimestamp
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("hashes: invalid timestamp value: %w", err)
	}

	*t = Timestamp{WebAssets: st.WebAssets, ContentAssets: st.ContentAssets}

	return nil
}

// ForWebAssets returns the effective web-assets watermark, inheriting a
// legacy single value.
func (t Timestamp) ForWebAssets() string {
	if t.WebAssets != "" {
		return t.WebAssets
	}

	return t.Value
}

// ForContentAssets returns the effective content-assets watermark,
// inheriting a legacy single value.
func (t Timestamp) ForContentAssets() string {
	if t.ContentAssets != "" {
		return t.ContentAssets
	}

	return t.Value
}

// Single returns the effective single-valued watermark.
func (t Timestamp) Single() string {
	return t.Value
}

// tenantMap is one tenant's slice of the hashes file: entries keyed by
// artifact/resource id plus the reserved watermark and base-URL keys.
type tenantMap struct {
	entries  map[string]*Entry
	lastPull map[string]Timestamp
	lastPush map[string]Timestamp
	baseURLs []string

	// legacyPull/legacyPush hold a pre-split single watermark read from
	// disk; every service inherits it until it is overwritten.
	legacyPull Timestamp
	legacyPush Timestamp
}

func newTenantMap() *tenantMap {
	return &tenantMap{
		entries:  make(map[string]*Entry),
		lastPull: make(map[string]Timestamp),
		lastPush: make(map[string]Timestamp),
	}
}

// MarshalJSON writes entries and reserved keys into one flat object.
func (tm *tenantMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(tm.entries)+3)

	for id, e := range tm.entries {
		out[id] = e
	}

	if len(tm.lastPull) > 0 {
		out[keyLastPull] = tm.lastPull
	}

	if len(tm.lastPush) > 0 {
		out[keyLastPush] = tm.lastPush
	}

	if len(tm.baseURLs) > 0 {
		out[keyBaseURLs] = tm.baseURLs
	}

	return json.Marshal(out)
}

// UnmarshalJSON splits reserved keys from id-keyed entries. The watermark
// values may be a legacy single string (inherited by every service), or a
// map keyed by service name.
func (tm *tenantMap) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*tm = *newTenantMap()

	for key, val := range raw {
		switch key {
		case keyLastPull:
			legacy, perService, err := parseWatermark(val)
			if err != nil {
				return fmt.Errorf("hashes: parsing %s: %w", keyLastPull, err)
			}

			tm.legacyPull = legacy
			tm.lastPull = perService
		case keyLastPush:
			legacy, perService, err := parseWatermark(val)
			if err != nil {
				return fmt.Errorf("hashes: parsing %s: %w", keyLastPush, err)
			}

			tm.legacyPush = legacy
			tm.lastPush = perService
		case keyBaseURLs:
			if err := json.Unmarshal(val, &tm.baseURLs); err != nil {
				return fmt.Errorf("hashes: parsing %s: %w", keyBaseURLs, err)
			}
		default:
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("hashes: parsing entry %q: %w", key, err)
			}

			tm.entries[key] = &e
		}
	}

	return nil
}

// parseWatermark reads a watermark value that is either a legacy single
// string or a per-service map.
func parseWatermark(raw json.RawMessage) (Timestamp, map[string]Timestamp, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Timestamp{Value: s}, make(map[string]Timestamp), nil
	}

	var m map[string]Timestamp
	if err := json.Unmarshal(raw, &m); err != nil {
		return Timestamp{}, nil, err
	}

	if m == nil {
		m = make(map[string]Timestamp)
	}

	return Timestamp{}, m, nil
}

// pull returns the effective pull watermark for a service.
func (tm *tenantMap) pull(service string) Timestamp {
	if ts, ok := tm.lastPull[service]; ok {
		return inherit(ts, tm.legacyPull)
	}

	return tm.legacyPull
}

// push returns the effective push watermark for a service.
func (tm *tenantMap) push(service string) Timestamp {
	if ts, ok := tm.lastPush[service]; ok {
		return inherit(ts, tm.legacyPush)
	}

	return tm.legacyPush
}

// inherit fills empty fields of ts from a legacy single value.
func inherit(ts, legacy Timestamp) Timestamp {
	if legacy.Value == "" {
		return ts
	}

	if ts.Value == "" {
		ts.Value = legacy.Value
	}

	if ts.WebAssets == "" {
		ts.WebAssets = legacy.Value
	}

	if ts.ContentAssets == "" {
		ts.ContentAssets = legacy.Value
	}

	return ts
}

// document is the whole hashes file: the version tag plus tenant objects.
type document struct {
	version string
	tenants map[string]*tenantMap
}

func newDocument() *document {
	return &document{version: FormatVersion, tenants: make(map[string]*tenantMap)}
}

// MarshalJSON writes the version tag and tenant objects into one flat object.
func (d *document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.tenants)+1)
	out["version"] = d.version

	for key, tm := range d.tenants {
		out[key] = tm
	}

	return json.Marshal(out)
}

// UnmarshalJSON splits the version tag from tenant objects.
func (d *document) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*d = *newDocument()

	for key, val := range raw {
		if key == "version" {
			if err := json.Unmarshal(val, &d.version); err != nil {
				return fmt.Errorf("hashes: parsing version: %w", err)
			}

			continue
		}

		tm := newTenantMap()
		if err := json.Unmarshal(val, tm); err != nil {
			return fmt.Errorf("hashes: parsing tenant %q: %w", key, err)
		}

		d.tenants[key] = tm
	}

	return nil
}

// tenant returns the tenant object for key, creating it if needed.
func (d *document) tenant(key string) *tenantMap {
	tm, ok := d.tenants[key]
	if !ok {
		tm = newTenantMap()
		d.tenants[key] = tm
	}

	return tm
}
