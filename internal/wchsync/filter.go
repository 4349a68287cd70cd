package wchsync

import (
	"regexp"
	"strings"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// filterItems applies the ready/draft/path/sub-kind filters to one chunk.
func filterItems(items []artifact.Item, o Options) []artifact.Item {
	var re *regexp.Regexp
	if o.FilterPath != "" {
		re = pathPattern(o.FilterPath)
	}

	out := items[:0:0]

	for _, it := range items {
		if o.FilterReady && it.IsDraft() {
			continue
		}

		if o.FilterDraft && !it.IsDraft() {
			continue
		}

		if o.WebAssetsOnly && it.IsContentAsset() {
			continue
		}

		if o.ContentAssetsOnly && !it.IsContentAsset() {
			continue
		}

		if re != nil && !re.MatchString(strings.TrimPrefix(it.Path(), "/")) {
			continue
		}

		out = append(out, it)
	}

	return out
}

// matchesOptions applies the same filters to a single item.
func matchesOptions(it artifact.Item, o Options) bool {
	filtered := filterItems([]artifact.Item{it}, o)

	return len(filtered) == 1
}

// pathPattern translates a virtual-path pattern into a regexp: each *
// matches within one path segment, so a trailing /* is non-recursive and
// matching deeper levels needs explicit wildcards per segment. A pattern
// without wildcards matches the subtree under that prefix.
func pathPattern(pattern string) *regexp.Regexp {
	pattern = strings.TrimPrefix(pattern, "/")

	if !strings.ContainsRune(pattern, '*') {
		return regexp.MustCompile("^" + regexp.QuoteMeta(strings.TrimSuffix(pattern, "/")) + "(/.*)?$")
	}

	parts := strings.Split(pattern, "*")

	var b strings.Builder
	b.WriteString("^")

	for i, part := range parts {
		b.WriteString(regexp.QuoteMeta(part))

		if i < len(parts)-1 {
			b.WriteString("([^/]*)")
		}
	}

	b.WriteString("$")

	return regexp.MustCompile(b.String())
}

// searchPrefix returns the literal prefix of a path pattern, for the
// search-index filter; the regexp enforces the exact semantics afterward.
func searchPrefix(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")

	if i := strings.IndexRune(pattern, '*'); i >= 0 {
		return pattern[:i]
	}

	return pattern
}
