package localstore

import (
	"crypto/md5" //nolint:gosec // content fingerprinting, not security
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ResourcesFolder is the working-directory folder holding resource binaries.
const ResourcesFolder = "resources"

// stagingSuffix marks a resource file still being downloaded. The file is
// renamed into place only after its MD5 matches the server digest.
const stagingSuffix = ".partial"

// ErrDigestMismatch is returned when a pulled binary's MD5 does not match
// the server's digest. The partial file is kept for inspection.
type ErrDigestMismatch struct {
	Path   string
	Want   string
	Got    string
	Staged string
}

func (e *ErrDigestMismatch) Error() string {
	return fmt.Sprintf("localstore: digest mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

// ResourceID computes a resource id from the binary's hex MD5 and its path
// relative to the resources root: hex(md5(bytes)) + "_" + hex(md5(path)).
// Equal ids imply identical binary content at identical relative paths.
func ResourceID(contentMD5Hex, relPath string) string {
	pathSum := md5.Sum([]byte(filepath.ToSlash(relPath))) //nolint:gosec // identity, not security

	return contentMD5Hex + "_" + hex.EncodeToString(pathSum[:])
}

// FileMD5Sums returns both encodings of a file's MD5: hex (resource ids)
// and base64 (hub digests).
func FileMD5Sums(path string) (hexSum, base64Sum string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("localstore: opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // content fingerprinting, not security
	if _, err := io.Copy(h, f); err != nil {
		return "", "", fmt.Errorf("localstore: hashing %s: %w", path, err)
	}

	sum := h.Sum(nil)

	return hex.EncodeToString(sum), base64.StdEncoding.EncodeToString(sum), nil
}

// ResourceStore lays resource binaries out as
// resources/<id[0:2]>/<id>/<original-filename>.
type ResourceStore struct {
	workingDir string
}

// NewResourceStore creates a resource store rooted at workingDir.
func NewResourceStore(workingDir string) *ResourceStore {
	return &ResourceStore{workingDir: workingDir}
}

// Dir returns the resources root.
func (r *ResourceStore) Dir() string {
	return filepath.Join(r.workingDir, ResourcesFolder)
}

// Path returns the on-disk location for a resource binary.
func (r *ResourceStore) Path(id, filename string) string {
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}

	return filepath.Join(r.Dir(), shard, id, SanitizeName(filename, false))
}

// FindPath returns the existing binary for a resource id, or "". The
// original filename is whatever single file lives in the id directory.
func (r *ResourceStore) FindPath(id string) string {
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}

	dir := filepath.Join(r.Dir(), shard, id)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	for _, e := range entries {
		if !e.IsDir() && !strings.HasSuffix(e.Name(), stagingSuffix) {
			return filepath.Join(dir, e.Name())
		}
	}

	return ""
}

// Save streams src into a staging file and renames it into place only after
// the MD5 matches wantDigest (base64). On mismatch the staging file is kept
// and an *ErrDigestMismatch is returned. An empty wantDigest skips
// verification.
func (r *ResourceStore) Save(id, filename string, src io.Reader, wantDigest string) (string, error) {
	_, path, err := SaveVerified(r.Path(id, filename), wantDigest, func(w io.Writer) error {
		if _, copyErr := io.Copy(w, src); copyErr != nil {
			return fmt.Errorf("localstore: streaming resource %s: %w", id, copyErr)
		}

		return nil
	})

	return path, err
}

// SaveVerified streams content produced by write into a staging file and
// renames it onto dest only when the MD5 matches wantDigest (base64).
// Returns the computed base64 MD5 and the final path. On mismatch the
// staging file is kept for inspection and an *ErrDigestMismatch is
// returned. An empty wantDigest skips verification.
func SaveVerified(dest, wantDigest string, write func(io.Writer) error) (string, string, error) {
	staged := dest + stagingSuffix

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", "", fmt.Errorf("localstore: creating %s: %w", filepath.Dir(dest), err)
	}

	f, err := os.Create(staged)
	if err != nil {
		return "", "", fmt.Errorf("localstore: creating %s: %w", staged, err)
	}

	h := md5.New() //nolint:gosec // content fingerprinting, not security

	writeErr := write(io.MultiWriter(f, h))
	closeErr := f.Close()

	if writeErr != nil {
		return "", "", writeErr
	}

	if closeErr != nil {
		return "", "", fmt.Errorf("localstore: closing %s: %w", staged, closeErr)
	}

	got := base64.StdEncoding.EncodeToString(h.Sum(nil))
	if wantDigest != "" && got != wantDigest {
		return got, "", &ErrDigestMismatch{Path: dest, Want: wantDigest, Got: got, Staged: staged}
	}

	if err := os.Rename(staged, dest); err != nil {
		return got, "", fmt.Errorf("localstore: renaming %s into place: %w", staged, err)
	}

	return got, dest, nil
}

// Delete removes a resource binary and prunes its id directory.
func (r *ResourceStore) Delete(id string) error {
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}

	dir := filepath.Join(r.Dir(), shard, id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("localstore: removing resource %s: %w", id, err)
	}

	// Prune the shard directory when it emptied.
	if parent := filepath.Dir(dir); parent != r.Dir() {
		if entries, err := os.ReadDir(parent); err == nil && len(entries) == 0 {
			_ = os.Remove(parent)
		}
	}

	return nil
}
