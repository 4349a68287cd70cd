package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// ConflictSuffix is appended to the intended path when the caller signals a
// push conflict; the server's version lands there for manual merge.
const ConflictSuffix = ".conflict"

// Options configure a store.
type Options struct {
	// NoVirtualFolder writes artifacts directly under the working
	// directory instead of the type's folder.
	NoVirtualFolder bool

	// Ignore filters walked files. Nil applies the default filters.
	Ignore *Ignore

	// Cache enables the per-operation parsed-item cache.
	Cache bool

	Logger *slog.Logger
}

// Store reads and writes one artifact type's JSON files under the working
// directory.
type Store struct {
	workingDir string
	desc       artifact.Descriptor
	opts       Options
	logger     *slog.Logger
	ignore     *Ignore
	cache      *itemCache
}

// New creates a store for one artifact type rooted at workingDir.
func New(workingDir string, desc artifact.Descriptor, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ig := opts.Ignore
	if ig == nil {
		ig = DefaultIgnore()
	}

	var cache *itemCache
	if opts.Cache {
		cache = newItemCache()
	}

	return &Store{
		workingDir: workingDir,
		desc:       desc,
		opts:       opts,
		logger:     logger,
		ignore:     ig,
		cache:      cache,
	}
}

// WorkingDir returns the working-directory root.
func (s *Store) WorkingDir() string { return s.workingDir }

// Dir returns the artifact type's folder.
func (s *Store) Dir() string {
	if s.opts.NoVirtualFolder {
		return s.workingDir
	}

	return filepath.Join(s.workingDir, s.desc.FolderName)
}

// ItemPath returns the intended on-disk path for an item: <id>.<suffix>
// when the id is present, the sanitized name otherwise.
func (s *Store) ItemPath(item artifact.Item) string {
	base := item.ID()
	if base == "" {
		base = item.Name()
	}

	return filepath.Join(s.Dir(), filepath.FromSlash(SanitizeName(base, false))+s.desc.Suffix)
}

// Rel converts an absolute path under the working directory to the slash
// form used in hashes entries and events.
func (s *Store) Rel(path string) string {
	if r, err := filepath.Rel(s.workingDir, path); err == nil && !strings.HasPrefix(r, "..") {
		return filepath.ToSlash(r)
	}

	return filepath.ToSlash(path)
}

// SaveOptions adjust one write.
type SaveOptions struct {
	// Conflict writes to <path>.conflict instead of the intended path.
	Conflict bool

	// IDMap is the id→paths map built by IDMap before a batch; it drives
	// rename reconciliation. Nil falls back to the legacy single-file mode
	// using OriginalPushFileName.
	IDMap map[string][]string

	// OriginalPushFileName is the path the item was read from during a
	// push, for the legacy reconciliation mode.
	OriginalPushFileName string

	// Path overrides the intended location with a working-directory-
	// relative path. Used by push writeback so the server's copy lands on
	// the file the user pushed, not the id-derived name.
	Path string
}

// Save writes the item's JSON file, reconciling renames so no other file
// under the virtual folder keeps the item's id. Returns the written path.
func (s *Store) Save(item artifact.Item, o SaveOptions) (string, error) {
	path := s.ItemPath(item)
	if o.Path != "" {
		path = filepath.Join(s.workingDir, filepath.FromSlash(o.Path))
	}

	if o.Conflict {
		path += ConflictSuffix
	}

	if !o.Conflict {
		if err := s.reconcileRenames(item, path, o); err != nil {
			return "", err
		}
	}

	pruned := s.prune(item)

	data, err := json.MarshalIndent(pruned, "", "  ")
	if err != nil {
		return "", fmt.Errorf("localstore: serializing %s item %q: %w", s.desc.ServiceName, item.ID(), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("localstore: creating %s: %w", filepath.Dir(path), err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("localstore: writing %s: %w", path, err)
	}

	if s.cache != nil {
		s.cache.put(path, item)
	}

	return path, nil
}

// reconcileRenames deletes other files that still carry the item's id.
// Each candidate is re-read to confirm its current id before deletion, and
// emptied parent directories are pruned.
func (s *Store) reconcileRenames(item artifact.Item, intended string, o SaveOptions) error {
	id := item.ID()
	if id == "" {
		return nil
	}

	var candidates []string

	switch {
	case o.IDMap != nil:
		candidates = o.IDMap[id]
	case o.OriginalPushFileName != "" && o.OriginalPushFileName != intended:
		candidates = []string{o.OriginalPushFileName}
	}

	for _, candidate := range candidates {
		if candidate == intended {
			continue
		}

		existing, err := s.Read(candidate)
		if err != nil {
			continue
		}

		if existing.ID() != id {
			// The file was re-used for a different artifact since the map
			// was built — leave it alone.
			continue
		}

		if err := s.Delete(candidate); err != nil {
			return err
		}

		s.logger.Debug("removed renamed file",
			slog.String("service", s.desc.ServiceName),
			slog.String("id", id),
			slog.String("old_path", candidate),
			slog.String("new_path", intended),
		)
	}

	return nil
}

// prune strips the descriptor's transient fields before serialization.
func (s *Store) prune(item artifact.Item) artifact.Item {
	if len(s.desc.PruneFields) == 0 {
		return item
	}

	out := item.Clone()
	for _, f := range s.desc.PruneFields {
		delete(out, f)
	}

	return out
}

// Read parses the JSON file at path into an item.
func (s *Store) Read(path string) (artifact.Item, error) {
	if s.cache != nil {
		if item, ok := s.cache.get(path); ok {
			return item, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("localstore: reading %s: %w", path, err)
	}

	var item artifact.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("localstore: parsing %s: %w", path, err)
	}

	if s.cache != nil {
		s.cache.put(path, item)
	}

	return item, nil
}

// Delete removes the file at path and prunes now-empty parent directories
// up to the type's folder.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("localstore: removing %s: %w", path, err)
	}

	s.pruneEmptyDirs(filepath.Dir(path))

	return nil
}

// pruneEmptyDirs removes empty directories from dir upward, stopping at the
// type's folder (or the working directory).
func (s *Store) pruneEmptyDirs(dir string) {
	root := s.Dir()

	for dir != root && strings.HasPrefix(dir, root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}

		if err := os.Remove(dir); err != nil {
			return
		}

		dir = filepath.Dir(dir)
	}
}

// Exists reports whether the item's intended file is present.
func (s *Store) Exists(item artifact.Item) bool {
	_, err := os.Stat(s.ItemPath(item))

	return err == nil
}

// ResetCache drops the per-operation cache. Flows call this on entry so a
// long-lived store never serves stale parses.
func (s *Store) ResetCache() {
	if s.cache != nil {
		s.cache.reset()
	}
}
