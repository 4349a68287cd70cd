package wchsync

import (
	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/manifest"
	"github.com/acoustic-content-samples/wchtools-go/internal/retrier"
)

// Options scope one flow invocation. The zero value means: whole
// collection, default page size and concurrency, no filters, no manifests.
type Options struct {
	// Offset and Limit control pagination; zero values use the defaults.
	Offset int
	Limit  int

	// ConcurrentLimit bounds in-flight tasks per chunk; zero uses the
	// artifact type's default.
	ConcurrentLimit int

	// FilterReady/FilterDraft restrict the flow to one lifecycle state.
	// Both unset means everything.
	FilterReady bool
	FilterDraft bool

	// FilterPath restricts the flow to artifacts under a virtual path;
	// a trailing * matches within one segment, per the search grammar.
	FilterPath string

	// WebAssetsOnly/ContentAssetsOnly restrict asset flows to one
	// sub-kind.
	WebAssetsOnly     bool
	ContentAssetsOnly bool

	// Deletions enables reconciliation events (local-only) after a pull.
	Deletions bool

	// RewriteOnPush persists the server's returned metadata back to the
	// pushed file.
	RewriteOnPush bool

	// SaveFileOnConflict writes the server's version to <path>.conflict
	// when a push hits HTTP 409.
	SaveFileOnConflict bool

	// DisableResources skips the standalone resources step of asset
	// flows.
	DisableResources bool

	// Manifest scopes the flow to the listed artifacts.
	Manifest *manifest.Manifest

	// OutputManifest records successes; DeletionsManifest records
	// local-only reconciliation results.
	OutputManifest    *manifest.Manifest
	DeletionsManifest *manifest.Manifest

	// Retry configures the per-item backoff.
	Retry retrier.Options
}

// concurrency resolves the effective throttle width for a type.
func (o Options) concurrency(desc artifact.Descriptor) int {
	if o.ConcurrentLimit > 0 {
		return o.ConcurrentLimit
	}

	if desc.DefaultConcurrency > 0 {
		return desc.DefaultConcurrency
	}

	return 5
}

// filtered reports whether the flow is scoped; watermarks only advance on
// unfiltered flows.
func (o Options) filtered() bool {
	return o.FilterReady || o.FilterDraft || o.FilterPath != "" ||
		o.WebAssetsOnly || o.ContentAssetsOnly || o.Manifest != nil
}
