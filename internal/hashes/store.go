package hashes

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	stdsync "sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// mtimeFormat is the storage format for local modification times.
const mtimeFormat = time.RFC3339Nano

// Flush policy defaults: the file is rewritten after this many updates or
// this much elapsed time since the previous write, whichever comes first.
const (
	DefaultWriteThreshold = 25
	DefaultWriteMaxTime   = 60 * time.Second
)

// Flags select which modification states a predicate reports.
type Flags int

// Modification states.
const (
	New Flags = 1 << iota
	Modified
	Deleted
)

// TenantKey identifies the tenant slice of the hashes file. The tenant id
// is preferred; when only a base URL is known, a reverse lookup over the
// stored baseUrls finds the matching key.
type TenantKey struct {
	ID      string
	BaseURL string
}

// Options configure a store.
type Options struct {
	Tenant TenantKey

	// UseHashes enables change tracking. When false, every mutator is a
	// no-op and every predicate returns false.
	UseHashes bool

	WriteThreshold int
	WriteMaxTime   time.Duration

	Logger *slog.Logger
}

// Store is the per-working-directory hashes index. It assumes a single
// writer per process (the flow thread); a file lock guards against other
// processes sharing the directory.
type Store struct {
	dir  string
	opts Options

	mu        stdsync.Mutex
	doc       *document
	key       string
	dirty     bool
	pending   int
	lastWrite time.Time

	lock *flock.Flock

	// nowFunc is injectable for flush-policy tests.
	nowFunc func() time.Time
}

// Open loads (or initializes) the hashes file under dir and resolves the
// tenant key. The legacy .dxhashes name is migrated on first open. When
// change tracking is enabled the store takes a file lock and registers
// itself for flush-on-exit.
func Open(dir string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.WriteThreshold <= 0 {
		opts.WriteThreshold = DefaultWriteThreshold
	}

	if opts.WriteMaxTime <= 0 {
		opts.WriteMaxTime = DefaultWriteMaxTime
	}

	s := &Store{
		dir:     dir,
		opts:    opts,
		nowFunc: time.Now,
		// Anchor the elapsed-time bound at open, not at the epoch.
		lastWrite: time.Now(),
	}

	if !opts.UseHashes {
		s.doc = newDocument()

		return s, nil
	}

	doc, err := loadDocument(dir)
	if err != nil {
		// Unparseable or unreadable index: log with context and fall back
		// to an empty in-memory state; the next flush rewrites the file.
		opts.Logger.Warn("hashes file unusable, starting empty",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)

		doc = newDocument()
	}

	s.doc = doc
	s.key = resolveTenantKey(doc, opts.Tenant)
	s.recordBaseURL()

	s.lock = flock.New(filepath.Join(dir, FileName+".lock"))
	if _, err := s.lock.TryLock(); err != nil {
		opts.Logger.Warn("could not lock hashes file, continuing unlocked",
			slog.String("error", err.Error()),
		)

		s.lock = nil
	}

	registerForExitFlush(s)

	return s, nil
}

// resolveTenantKey prefers the tenant id; with only a base URL known it
// searches every tenant's stored baseUrls, falling back to the URL itself
// as the key for a brand-new tenant.
func resolveTenantKey(doc *document, t TenantKey) string {
	if t.ID != "" {
		return t.ID
	}

	for key, tm := range doc.tenants {
		for _, u := range tm.baseURLs {
			if u == t.BaseURL {
				return key
			}
		}
	}

	return t.BaseURL
}

// recordBaseURL remembers the tenant's base URL for future reverse lookups.
func (s *Store) recordBaseURL() {
	if s.opts.Tenant.BaseURL == "" {
		return
	}

	tm := s.doc.tenant(s.key)
	for _, u := range tm.baseURLs {
		if u == s.opts.Tenant.BaseURL {
			return
		}
	}

	tm.baseURLs = append(tm.baseURLs, s.opts.Tenant.BaseURL)
	s.dirty = true
}

// Close flushes pending changes and releases the file lock.
func (s *Store) Close() error {
	if !s.opts.UseHashes {
		return nil
	}

	unregisterForExitFlush(s)

	err := s.Flush()

	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("hashes: releasing lock: %w", unlockErr)
		}
	}

	return err
}

// Dir returns the directory the store was opened on.
func (s *Store) Dir() string { return s.dir }

// Enabled reports whether change tracking is on.
func (s *Store) Enabled() bool { return s.opts.UseHashes }

// rel converts an absolute or relative file path to the working-directory-
// relative slash form used as the stored path.
func (s *Store) rel(path string) string {
	if path == "" {
		return ""
	}

	if r, err := filepath.Rel(s.dir, path); err == nil && !strings.HasPrefix(r, "..") {
		return filepath.ToSlash(r)
	}

	return filepath.ToSlash(path)
}

// Update recomputes the local MD5 and mtime of filePath and stores the
// entry for the item's id, removing stale entries that share the path
// (rename guard). For assets with a linked resource, resourcePath and
// resourceMD5 populate the entry's resource fields and a separate resource
// entry keyed by the resource id.
func (s *Store) Update(id, filePath string, item artifact.Item, resourcePath, resourceMD5 string) error {
	if !s.opts.UseHashes {
		return nil
	}

	if id == "" {
		id = item.ID()
	}

	md5sum, err := FileMD5(filePath)
	if err != nil {
		return err
	}

	relPath := s.rel(filePath)

	s.mu.Lock()
	defer s.mu.Unlock()

	tm := s.doc.tenant(s.key)

	// A new entry under id with path P invalidates every other entry whose
	// path equals P — local renames must not leave stale entries behind.
	for otherID, e := range tm.entries {
		if otherID != id && e.Path == relPath {
			delete(tm.entries, otherID)
		}
	}

	entry := &Entry{
		Rev:               item.Rev(),
		LastModified:      item.LastModified(),
		MD5:               md5sum,
		Path:              relPath,
		LocalLastModified: fileMtime(filePath),
	}

	if res := item.Resource(); res != "" {
		entry.Resource = res
	}

	if resourcePath != "" {
		relRes := s.rel(resourcePath)
		entry.ResourcePath = relRes
		entry.ResourceMD5 = resourceMD5
		entry.ResourceLocalLastModified = fileMtime(resourcePath)

		if res := item.Resource(); res != "" {
			tm.entries[res] = &Entry{
				MD5:               resourceMD5,
				Path:              relRes,
				LocalLastModified: entry.ResourceLocalLastModified,
			}
		}
	}

	tm.entries[id] = entry
	s.markDirtyLocked()

	return s.maybeFlushLocked()
}

// Remove deletes the entries for the given ids.
func (s *Store) Remove(ids ...string) error {
	if !s.opts.UseHashes {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tm := s.doc.tenant(s.key)
	for _, id := range ids {
		delete(tm.entries, id)
	}

	s.markDirtyLocked()

	return s.maybeFlushLocked()
}

// RemoveByPath deletes every entry whose stored path equals path.
func (s *Store) RemoveByPath(path string) error {
	if !s.opts.UseHashes {
		return nil
	}

	relPath := s.rel(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	tm := s.doc.tenant(s.key)
	for id, e := range tm.entries {
		if e.Path == relPath {
			delete(tm.entries, id)
		}
	}

	s.markDirtyLocked()

	return s.maybeFlushLocked()
}

// RemoveAllForTenant wipes the tenant's slice of the file.
func (s *Store) RemoveAllForTenant() error {
	if !s.opts.UseHashes {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.doc.tenants, s.key)
	s.markDirtyLocked()

	return s.maybeFlushLocked()
}

// entryByPath finds the entry whose stored path matches.
func (s *Store) entryByPath(relPath string) (string, *Entry) {
	tm := s.doc.tenant(s.key)
	for id, e := range tm.entries {
		if e.Path == relPath {
			return id, e
		}
	}

	return "", nil
}

// Entry returns a copy of the entry stored for id.
func (s *Store) Entry(id string) (Entry, bool) {
	if !s.opts.UseHashes {
		return Entry{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.doc.tenant(s.key).entries[id]
	if !ok {
		return Entry{}, false
	}

	return *e, true
}

// MD5 returns the stored MD5 for the file at path, or "".
func (s *Store) MD5(path string) string {
	if !s.opts.UseHashes {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, e := s.entryByPath(s.rel(path)); e != nil {
		return e.MD5
	}

	return ""
}

// ResourceMD5 returns the stored resource MD5 for the asset binary at path,
// or "".
func (s *Store) ResourceMD5(path string) string {
	if !s.opts.UseHashes {
		return ""
	}

	relPath := s.rel(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	tm := s.doc.tenant(s.key)
	for _, e := range tm.entries {
		if e.ResourcePath == relPath {
			return e.ResourceMD5
		}
	}

	// Resources also appear as their own entries.
	if _, e := s.entryByPath(relPath); e != nil {
		return e.MD5
	}

	return ""
}

// PathForResource returns the stored local path for a resource id, or "".
func (s *Store) PathForResource(id string) string {
	if !s.opts.UseHashes {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.doc.tenant(s.key).entries[id]; ok {
		return e.Path
	}

	return ""
}

// ListedEntry pairs an id with its entry for ListFiles.
type ListedEntry struct {
	ID    string
	Entry Entry
}

// ListFiles returns every tracked entry for the tenant.
func (s *Store) ListFiles() []ListedEntry {
	if !s.opts.UseHashes {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tm := s.doc.tenant(s.key)
	out := make([]ListedEntry, 0, len(tm.entries))

	for id, e := range tm.entries {
		out = append(out, ListedEntry{ID: id, Entry: *e})
	}

	return out
}

// IsLocalModified reports whether the file at filePath is new (no entry) or
// locally modified relative to the stored state. The mtime is checked first;
// only a differing mtime triggers the MD5 recompute, and a matching MD5
// refreshes the stored mtime so the next check stays fast. For assets,
// resourcePath extends the check to the binary.
func (s *Store) IsLocalModified(flags Flags, filePath, resourcePath string) bool {
	if !s.opts.UseHashes {
		return false
	}

	relPath := s.rel(filePath)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, e := s.entryByPath(relPath)
	if e == nil {
		return flags&New != 0
	}

	if flags&Modified == 0 {
		return false
	}

	if s.contentModifiedLocked(filePath, e.MD5, &e.LocalLastModified) {
		return true
	}

	if resourcePath != "" && e.ResourceMD5 != "" {
		if s.contentModifiedLocked(resourcePath, e.ResourceMD5, &e.ResourceLocalLastModified) {
			return true
		}
	}

	return false
}

// contentModifiedLocked applies the fast-mtime-then-MD5 check against one
// file, refreshing the stored mtime through storedMtime when the content is
// unchanged.
func (s *Store) contentModifiedLocked(path, storedMD5 string, storedMtime *string) bool {
	mtime := fileMtime(path)
	if mtime == "" {
		// File vanished — callers treat deletions separately.
		return false
	}

	if mtime == *storedMtime {
		return false
	}

	current, err := FileMD5(path)
	if err != nil {
		s.opts.Logger.Warn("could not hash file for modification check",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return false
	}

	if current != storedMD5 {
		return true
	}

	// Touched but unchanged: refresh the stored mtime.
	*storedMtime = mtime
	s.markDirtyLocked()

	return false
}

// IsRemoteModified reports whether the item is new (no entry for its id) or
// remotely modified (stored rev differs from the item's rev).
func (s *Store) IsRemoteModified(flags Flags, item artifact.Item) bool {
	if !s.opts.UseHashes {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.doc.tenant(s.key).entries[item.ID()]
	if !ok {
		return flags&New != 0
	}

	return flags&Modified != 0 && e.Rev != item.Rev()
}

// LastPullTimestamp returns the pull watermark for a service.
func (s *Store) LastPullTimestamp(service string) Timestamp {
	if !s.opts.UseHashes {
		return Timestamp{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.doc.tenant(s.key).pull(service)
}

// SetLastPullTimestamp stores the pull watermark for a service.
func (s *Store) SetLastPullTimestamp(service string, ts Timestamp) error {
	if !s.opts.UseHashes {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.tenant(s.key).lastPull[service] = ts
	s.markDirtyLocked()

	return s.maybeFlushLocked()
}

// LastPushTimestamp returns the push watermark for a service.
func (s *Store) LastPushTimestamp(service string) Timestamp {
	if !s.opts.UseHashes {
		return Timestamp{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.doc.tenant(s.key).push(service)
}

// SetLastPushTimestamp stores the push watermark for a service.
func (s *Store) SetLastPushTimestamp(service string, ts Timestamp) error {
	if !s.opts.UseHashes {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.tenant(s.key).lastPush[service] = ts
	s.markDirtyLocked()

	return s.maybeFlushLocked()
}

// markDirtyLocked records a pending mutation. Callers hold s.mu.
func (s *Store) markDirtyLocked() {
	s.dirty = true
	s.pending++
}

// maybeFlushLocked rewrites the file when the pending-update threshold or
// the elapsed-time bound is hit. Callers hold s.mu.
func (s *Store) maybeFlushLocked() error {
	if !s.dirty {
		return nil
	}

	if s.pending < s.opts.WriteThreshold && s.nowFunc().Sub(s.lastWrite) < s.opts.WriteMaxTime {
		return nil
	}

	return s.flushLocked()
}

// Flush rewrites the file if there are pending changes.
func (s *Store) Flush() error {
	if !s.opts.UseHashes {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if err := saveDocument(s.dir, s.doc); err != nil {
		return err
	}

	s.dirty = false
	s.pending = 0
	s.lastWrite = s.nowFunc()

	return nil
}
