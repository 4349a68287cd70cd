package localstore

import "strings"

// Default filters keep tool bookkeeping and VCS clutter out of listings.
var (
	defaultSkipFiles = []string{
		".wchtoolshashes", ".dxhashes", ".wchtoolsignore",
		".DS_Store", "Thumbs.db", "desktop.ini",
	}
	defaultSkipDirs = []string{".git", ".hg", ".svn", "node_modules"}
)

// Ignore filters files and directories out of local listings. Additive
// matchers extend the defaults; non-additive matchers replace them.
type Ignore struct {
	files []string
	dirs  []string
}

// DefaultIgnore returns the built-in filter set.
func DefaultIgnore() *Ignore {
	return &Ignore{files: defaultSkipFiles, dirs: defaultSkipDirs}
}

// NewIgnore builds a filter from explicit name patterns. When additive is
// set the defaults are kept and extended.
func NewIgnore(files, dirs []string, additive bool) *Ignore {
	ig := &Ignore{}

	if additive {
		ig.files = append(ig.files, defaultSkipFiles...)
		ig.dirs = append(ig.dirs, defaultSkipDirs...)
	}

	ig.files = append(ig.files, files...)
	ig.dirs = append(ig.dirs, dirs...)

	return ig
}

// SkipFile reports whether a file name is filtered. Temp and lock files the
// tool itself produces are always skipped.
func (ig *Ignore) SkipFile(name string) bool {
	if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".partial") {
		return true
	}

	return matchName(ig.files, name)
}

// SkipDir reports whether a directory name is filtered.
func (ig *Ignore) SkipDir(name string) bool {
	return matchName(ig.dirs, name)
}

func matchName(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}

		// Leading-star patterns match by suffix (e.g. "*.bak").
		if strings.HasPrefix(p, "*") && strings.HasSuffix(name, p[1:]) {
			return true
		}
	}

	return false
}
