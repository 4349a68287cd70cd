package pager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// fakeCollection serves offset/limit slices of a fixed id list.
func fakeCollection(ids []string) ListFunc {
	return func(_ context.Context, offset, limit int) ([]artifact.Item, error) {
		if offset >= len(ids) {
			return nil, nil
		}

		end := min(offset+limit, len(ids))

		out := make([]artifact.Item, 0, end-offset)
		for _, id := range ids[offset:end] {
			out = append(out, artifact.Item{"id": id})
		}

		return out, nil
	}
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a' + i%26))
	}

	return ids
}

func TestEach_WalksAllChunksInOrder(t *testing.T) {
	ids := makeIDs(25)

	var seen int
	var offsets []int

	err := Each(context.Background(), Options{Limit: 10}, fakeCollection(ids),
		func(_ context.Context, items []artifact.Item) (ChunkResult, error) {
			offsets = append(offsets, seen)
			seen += len(items)

			return ChunkResult{Count: len(items)}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 25, seen)
	assert.Equal(t, []int{0, 10, 20}, offsets)
}

func TestEach_StopsOnShortChunk(t *testing.T) {
	calls := 0

	err := Each(context.Background(), Options{Limit: 10}, fakeCollection(makeIDs(5)),
		func(_ context.Context, items []artifact.Item) (ChunkResult, error) {
			calls++

			return ChunkResult{Count: len(items)}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestEach_ExactMultipleMakesFinalEmptyCall(t *testing.T) {
	var counts []int

	err := Each(context.Background(), Options{Limit: 10}, fakeCollection(makeIDs(20)),
		func(_ context.Context, items []artifact.Item) (ChunkResult, error) {
			counts = append(counts, len(items))

			return ChunkResult{Count: len(items)}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 10, 0}, counts)
}

func TestEach_AdjustOffsetCompensatesForRemovals(t *testing.T) {
	// Simulate a delete-all: each processed chunk removes its items, so
	// the next fetch must not skip ahead.
	store := makeIDs(30)

	list := func(_ context.Context, offset, limit int) ([]artifact.Item, error) {
		if offset >= len(store) {
			return nil, nil
		}

		end := min(offset+limit, len(store))

		out := make([]artifact.Item, 0, end-offset)
		for _, id := range store[offset:end] {
			out = append(out, artifact.Item{"id": id})
		}

		return out, nil
	}

	removedTotal := 0

	err := Each(context.Background(), Options{Limit: 10, AdjustOffset: true}, list,
		func(_ context.Context, items []artifact.Item) (ChunkResult, error) {
			// Every item in the chunk is deleted server-side.
			store = store[len(items):]
			removedTotal += len(items)

			return ChunkResult{Count: len(items), Removed: len(items)}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 30, removedTotal)
	assert.Empty(t, store)
}

func TestEach_ListErrorPropagates(t *testing.T) {
	boom := errors.New("boom")

	err := Each(context.Background(), Options{},
		func(context.Context, int, int) ([]artifact.Item, error) { return nil, boom },
		func(context.Context, []artifact.Item) (ChunkResult, error) { return ChunkResult{}, nil })
	assert.ErrorIs(t, err, boom)
}

func TestEach_ProcessErrorPropagates(t *testing.T) {
	boom := errors.New("boom")

	err := Each(context.Background(), Options{Limit: 10}, fakeCollection(makeIDs(15)),
		func(context.Context, []artifact.Item) (ChunkResult, error) { return ChunkResult{}, boom })
	assert.ErrorIs(t, err, boom)
}
