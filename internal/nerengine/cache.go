package nerengine

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize bounds the number of loaded models kept resident.
// Deployments rarely rotate more than a handful of model names.
const defaultCacheSize = 8

// cacheEntry records the outcome of one load attempt. Failed loads are
// cached too, so a missing model produces a skip reason per message
// instead of a load storm.
type cacheEntry struct {
	tagger Tagger
	err    error
}

// ModelCache is a keyed, mutex-guarded cache of loaded taggers.
// The critical section covers both lookup and miss-insertion, so
// concurrent misses for the same model name load exactly once.
type ModelCache struct {
	mu     sync.Mutex
	loader Loader
	models *lru.Cache[string, *cacheEntry]
}

// NewModelCache creates a cache that loads missing models with loader.
func NewModelCache(loader Loader) *ModelCache {
	models, err := lru.New[string, *cacheEntry](defaultCacheSize)
	if err != nil {
		// lru.New only fails on non-positive size.
		panic(fmt.Sprintf("nerengine: model cache init: %v", err))
	}
	return &ModelCache{loader: loader, models: models}
}

// Get returns the tagger for modelName, loading it on first use.
// The load error, if any, is cached and returned on every subsequent call.
func (c *ModelCache) Get(modelName string) (Tagger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.models.Get(modelName); ok {
		return entry.tagger, entry.err
	}

	entry := &cacheEntry{}
	entry.tagger, entry.err = c.loader(modelName)
	c.models.Add(modelName, entry)
	return entry.tagger, entry.err
}

// Clear drains the cache. Used by tests to reset state between cases.
func (c *ModelCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models.Purge()
}

// Len returns the number of cached entries.
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models.Len()
}
