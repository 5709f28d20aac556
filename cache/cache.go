// Package cache holds a process-wide LRU of loaded module trees keyed
// by (module, datastore, generation). Invalidation is an explicit
// generation bump that both the in-process commit write path and an
// external file watcher can invoke uniformly; stale generations simply
// age out of the LRU.
package cache

import (
	"container/list"
	"expvar"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/tree"
)

// Entry is one cached module tree with the revision it was loaded at.
// The cached tree is a master copy; callers receive deep copies.
type Entry struct {
	Tree     *tree.Tree
	Revision core.Revision
}

type cacheItem struct {
	key   string
	entry Entry
}

// ModuleCache is a fixed-size LRU of loaded module trees.
type ModuleCache struct {
	mu       sync.Mutex
	capacity int
	lruList  *list.List
	items    map[string]*list.Element
	gens     map[string]uint64

	group singleflight.Group

	hits   *expvar.Int
	misses *expvar.Int
}

// New creates a ModuleCache. A capacity <= 0 disables caching; loads
// still go through singleflight.
func New(capacity int) *ModuleCache {
	return &ModuleCache{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[string]*list.Element),
		gens:     make(map[string]uint64),
	}
}

// SetMetrics attaches hit/miss counters.
func (c *ModuleCache) SetMetrics(hits, misses *expvar.Int) {
	c.hits = hits
	c.misses = misses
}

func genKey(module string, ds core.Datastore) string {
	return module + "@" + ds.String()
}

// Generation returns the current generation of a module entry.
func (c *ModuleCache) Generation(module string, ds core.Datastore) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[genKey(module, ds)]
}

// Invalidate bumps the module's generation so subsequent lookups
// bypass any cached tree.
func (c *ModuleCache) Invalidate(module string, ds core.Datastore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[genKey(module, ds)]++
}

// GetOrLoad returns a deep copy of the cached tree for the module's
// current generation, loading and caching the master copy on miss.
// Concurrent misses for the same key are collapsed to one load.
func (c *ModuleCache) GetOrLoad(module string, ds core.Datastore, load func() (*tree.Tree, core.Revision, error)) (*tree.Tree, core.Revision, error) {
	c.mu.Lock()
	gen := c.gens[genKey(module, ds)]
	key := fmt.Sprintf("%s#%d", genKey(module, ds), gen)
	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		entry := elem.Value.(*cacheItem).entry
		if c.hits != nil {
			c.hits.Add(1)
		}
		c.mu.Unlock()
		return entry.Tree.Copy(), entry.Revision, nil
	}
	if c.misses != nil {
		c.misses.Add(1)
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		t, rev, err := load()
		if err != nil {
			return nil, err
		}
		entry := Entry{Tree: t, Revision: rev}
		c.put(key, entry)
		return entry, nil
	})
	if err != nil {
		return nil, 0, err
	}
	entry := v.(Entry)
	return entry.Tree.Copy(), entry.Revision, nil
}

func (c *ModuleCache) put(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity <= 0 {
		return
	}
	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*cacheItem).entry = entry
		return
	}
	if c.lruList.Len() >= c.capacity {
		if elem := c.lruList.Back(); elem != nil {
			removed := c.lruList.Remove(elem).(*cacheItem)
			delete(c.items, removed.key)
		}
	}
	c.items[key] = c.lruList.PushFront(&cacheItem{key: key, entry: entry})
}

// Len returns the number of cached entries, including stale
// generations that have not aged out yet.
func (c *ModuleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Clear drops all cached entries. Generations are preserved.
func (c *ModuleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lruList = list.New()
	c.items = make(map[string]*list.Element)
}
