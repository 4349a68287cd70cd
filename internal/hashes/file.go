package hashes

import (
	"crypto/md5" //nolint:gosec // content fingerprinting, not security
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// loadDocument reads the hashes file under dir, renaming the legacy file
// name first if present. A missing file yields an empty document; an
// unreadable or unparseable file is reported so the caller can fall back to
// its last-loaded state.
func loadDocument(dir string) (*document, error) {
	path := filepath.Join(dir, FileName)

	// One-time migration from the legacy file name.
	legacy := filepath.Join(dir, legacyFileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if _, legacyErr := os.Stat(legacy); legacyErr == nil {
			if renameErr := os.Rename(legacy, path); renameErr != nil {
				return nil, fmt.Errorf("hashes: migrating %s: %w", legacyFileName, renameErr)
			}
		}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return newDocument(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("hashes: reading %s: %w", FileName, err)
	}

	doc := newDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("hashes: parsing %s: %w", FileName, err)
	}

	return doc, nil
}

// saveDocument writes the document atomically: serialize to <file>.tmp,
// remove the previous file, rename the tmp into place. At any instant the
// on-disk file is either the previous snapshot or the new one.
func saveDocument(dir string, doc *document) error {
	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("hashes: serializing %s: %w", FileName, err)
	}

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("hashes: writing %s: %w", tmp, err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("hashes: removing previous %s: %w", FileName, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("hashes: renaming %s into place: %w", tmp, err)
	}

	return nil
}

// FileMD5 returns the base64-encoded MD5 of the file's content, computed
// with streaming I/O.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashes: opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // content fingerprinting, not security
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashes: hashing %s: %w", path, err)
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// fileMtime returns the file's modification time formatted for storage, or
// "" when the file cannot be stat'd.
func fileMtime(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	return info.ModTime().UTC().Format(mtimeFormat)
}
