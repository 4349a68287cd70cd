// Package pager drives offset/limit chunking for the list, pull, and delete
// flows. Chunks are fetched sequentially so the server-side cursor stays
// stable; concurrency happens inside the chunk processor.
package pager

import (
	"context"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// DefaultLimit is the page size used when the caller supplies none.
const DefaultLimit = 100

// ListFunc returns one chunk of items at the given offset.
type ListFunc func(ctx context.Context, offset, limit int) ([]artifact.Item, error)

// ChunkResult reports what the processor observed in one chunk. Count is the
// chunk length as seen by the processor; Removed is the number of items the
// processor deleted server-side (delete-all flows), which shifts subsequent
// pagination.
type ChunkResult struct {
	Count   int
	Removed int
}

// ProcessFunc handles one chunk of items.
type ProcessFunc func(ctx context.Context, items []artifact.Item) (ChunkResult, error)

// Options configure a paged walk.
type Options struct {
	Offset int
	Limit  int

	// AdjustOffset subtracts the removed count from each offset advance so
	// server-side deletions do not cause items to be skipped.
	AdjustOffset bool
}

// Each walks the collection chunk by chunk until a short chunk is returned
// or either callback fails.
func Each(ctx context.Context, o Options, list ListFunc, process ProcessFunc) error {
	limit := o.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	offset := o.Offset

	for {
		items, err := list(ctx, offset, limit)
		if err != nil {
			return err
		}

		res, err := process(ctx, items)
		if err != nil {
			return err
		}

		if res.Count < limit {
			return nil
		}

		advance := limit
		if o.AdjustOffset {
			advance -= res.Removed
		}

		offset += advance
	}
}
