// Package localstore maps artifact types onto the working-directory
// filesystem layout: virtual folders of JSON metadata files for most types,
// plus the binary/sidecar layout of assets and the content-addressed
// resource tree.
package localstore

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// invalidFileChars are sanitized out of file names so the same artifact
// produces the same name on every supported filesystem.
const invalidFileChars = `<>:"\|?*`

// SanitizeName produces a cross-platform-safe file name: NFC-normalized,
// invalid characters replaced with '_', path separators preserved only when
// keepSeparators is set (virtual paths), and surrounding whitespace
// trimmed.
func SanitizeName(name string, keepSeparators bool) string {
	name = norm.NFC.String(name)
	name = strings.TrimSpace(name)

	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		switch {
		case r == '/' && keepSeparators:
			b.WriteRune(r)
		case r == '/' || strings.ContainsRune(invalidFileChars, r):
			b.WriteByte('_')
		case r < 0x20:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}
