package localstore

import (
	stdsync "sync"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

// itemCache maps file paths to parsed items for the duration of a single
// operation. It avoids re-parsing when a flow reads the same file for the
// id map, the modification check, and the push body.
type itemCache struct {
	mu    stdsync.Mutex
	items map[string]artifact.Item
}

func newItemCache() *itemCache {
	return &itemCache{items: make(map[string]artifact.Item)}
}

func (c *itemCache) get(path string) (artifact.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[path]

	return item, ok
}

func (c *itemCache) put(path string, item artifact.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[path] = item
}

func (c *itemCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]artifact.Item)
}
