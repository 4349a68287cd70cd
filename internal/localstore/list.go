package localstore

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// ListOptions adjust a directory listing.
type ListOptions struct {
	// AdditionalProperties names item properties to copy into each proxy's
	// Extra map (e.g. "status", "resource").
	AdditionalProperties []string
}

// ListNames walks the type's folder and returns a proxy per artifact file.
// Files that fail to parse yield proxies with an empty ID so callers can
// still surface them.
func (s *Store) ListNames(o ListOptions) ([]artifact.Proxy, error) {
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

		if !strings.HasSuffix(d.Name(), s.desc.Suffix) || strings.HasSuffix(d.Name(), ConflictSuffix) {
			return nil
		}

		if s.ignore.SkipFile(d.Name()) {
			return nil
		}

		proxies = append(proxies, s.proxyFor(path, o))

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

// proxyFor reads a file's JSON header into a proxy.
func (s *Store) proxyFor(path string, o ListOptions) artifact.Proxy {
	rel := s.Rel(path)

	item, err := s.Read(path)
	if err != nil {
		s.logger.Warn("unparseable artifact file",
			slog.String("service", s.desc.ServiceName),
			slog.String("path", rel),
			slog.String("error", err.Error()),
		)

		return artifact.Proxy{Name: strings.TrimSuffix(filepath.Base(path), s.desc.Suffix), Path: rel}
	}

	p := artifact.Proxy{ID: item.ID(), Name: item.Name(), Path: rel}

	if len(o.AdditionalProperties) > 0 {
		p.Extra = make(map[string]any, len(o.AdditionalProperties))
		for _, prop := range o.AdditionalProperties {
			if v, ok := item[prop]; ok {
				p.Extra[prop] = v
			}
		}
	}

	return p
}

// IDMap scans every artifact file under the type's folder and returns a map
// of id to the absolute paths currently carrying that id. Built before a
// batch write so rename reconciliation can preserve id uniqueness.
func (s *Store) IDMap() (map[string][]string, error) {
	dir := s.Dir()
	out := make(map[string][]string)

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

		if !strings.HasSuffix(d.Name(), s.desc.Suffix) || strings.HasSuffix(d.Name(), ConflictSuffix) {
			return nil
		}

		item, readErr := s.Read(path)
		if readErr != nil {
			return nil
		}

		if id := item.ID(); id != "" {
			out[id] = append(out[id], path)
		}

		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}

		return nil, err
	}

	return out, nil
}
