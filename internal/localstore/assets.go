package localstore

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// MetadataSuffix is appended to a content asset's binary file name to form
// its JSON sidecar (e.g. dxdam/foo/bar.jpg_amd.json).
const MetadataSuffix = "_amd.json"

// AssetStore handles the assets folder, where the layout differs from every
// other type: binaries live at their virtual path, content assets carry a
// JSON metadata sidecar, and drafts rename the binary with the draft
// suffix.
type AssetStore struct {
	*Store
	resources *ResourceStore
}

// NewAssetStore creates the asset store rooted at workingDir.
func NewAssetStore(workingDir string, opts Options) *AssetStore {
	return &AssetStore{
		Store:     New(workingDir, artifact.Assets, opts),
		resources: NewResourceStore(workingDir),
	}
}

// Resources returns the resource store sharing the working directory.
func (s *AssetStore) Resources() *ResourceStore { return s.resources }

// BinaryPath returns the on-disk location of the asset's binary: the
// sanitized virtual path under assets/, with the draft rename applied for
// draft variants.
func (s *AssetStore) BinaryPath(item artifact.Item) string {
	rel := strings.TrimPrefix(item.Path(), "/")
	rel = SanitizeName(rel, true)

	if item.IsDraft() {
		dir, file := filepath.Split(filepath.FromSlash(rel))
		rel = filepath.Join(dir, artifact.DraftFileName(file))
	}

	return filepath.Join(s.Dir(), filepath.FromSlash(rel))
}

// MetadataPath returns the sidecar path for a binary. Only content assets
// keep a sidecar on disk.
func (s *AssetStore) MetadataPath(binaryPath string) string {
	return binaryPath + MetadataSuffix
}

// IsMetadataFile reports whether a file name is an asset metadata sidecar.
func IsMetadataFile(name string) bool {
	return strings.HasSuffix(name, MetadataSuffix)
}

// VirtualPath converts a binary's absolute path back to the asset's virtual
// path (slash-separated, rooted at the assets folder, draft rename
// reversed).
func (s *AssetStore) VirtualPath(binaryPath string) string {
	rel, err := filepath.Rel(s.Dir(), binaryPath)
	if err != nil {
		return filepath.ToSlash(binaryPath)
	}

	rel = filepath.ToSlash(rel)

	dir, file := filepath.Split(rel)
	if artifact.IsDraftFileName(file) {
		rel = dir + artifact.ReadyFileName(file)
	}

	return rel
}

// ListBinaries walks the assets folder and returns a proxy per binary file.
// Metadata sidecars and conflict files are skipped; the proxy path is the
// working-directory-relative binary location and the proxy id is filled
// from the sidecar when one exists.
func (s *AssetStore) ListBinaries() ([]artifact.Proxy, error) {
	dir := s.Dir()

	var proxies []artifact.Proxy

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() {
			if s.ignore.SkipDir(d.Name()) {
				return filepath.SkipDir
			}

			return nil
		}

		name := d.Name()
		if IsMetadataFile(name) || strings.HasSuffix(name, ConflictSuffix) || s.ignore.SkipFile(name) {
			return nil
		}

		p := artifact.Proxy{
			Name:  name,
			Path:  s.Rel(path),
			Extra: map[string]any{},
		}

		if info, infoErr := d.Info(); infoErr == nil {
			p.Extra["size"] = info.Size()
		}

		if meta, metaErr := s.Read(s.MetadataPath(path)); metaErr == nil {
			p.ID = meta.ID()

			if status := meta.Status(); status != "" {
				p.Extra["status"] = status
			}

			if res := meta.Resource(); res != "" {
				p.Extra["resource"] = res
			}
		}

		proxies = append(proxies, p)

		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	return proxies, nil
}

// DeleteAsset removes the binary, its metadata sidecar, and (when resource
// is non-empty) the resource binary — the three on-disk facets of one
// asset.
func (s *AssetStore) DeleteAsset(binaryPath, resourceID string) error {
	if err := s.Delete(binaryPath); err != nil {
		return err
	}

	metaPath := s.MetadataPath(binaryPath)
	if _, err := os.Stat(metaPath); err == nil {
		if err := s.Delete(metaPath); err != nil {
			return err
		}
	}

	if resourceID != "" {
		if err := s.resources.Delete(resourceID); err != nil {
			return err
		}
	}

	return nil
}
