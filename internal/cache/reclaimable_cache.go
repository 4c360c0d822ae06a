package cache

import (
	"image"
	"runtime"
	"sync"
	"weak"
)

// ReclaimableCache keeps the most recently used tiles in a strong LRU and
// demotes evicted tiles to weak pointers. A demoted tile can be served again
// for as long as something else (a renderer, a prefetch result) keeps it
// alive. Once the garbage collector frees it, the entry disappears and
// onReclaim is notified from the runtime's cleanup goroutine.
//
// Only *image.RGBA tiles are demoted; other image types are dropped on
// eviction.
type ReclaimableCache struct {
	mu     sync.Mutex
	strong *MemoryCache
	weak   map[string]weakEntry

	onReclaim func(key TileKey)
}

type weakEntry struct {
	key TileKey
	ptr weak.Pointer[image.RGBA]
}

type reclaimArg struct {
	c   *ReclaimableCache
	key TileKey
}

// NewReclaimableCache creates a cache holding at most maxStrong tiles strongly.
// onReclaim may be nil.
func NewReclaimableCache(maxStrong int, onReclaim func(key TileKey)) *ReclaimableCache {
	c := &ReclaimableCache{
		strong:    NewMemoryCache(maxStrong),
		weak:      make(map[string]weakEntry),
		onReclaim: onReclaim,
	}
	// Runs under c.mu: only Set and promote push into the strong tier.
	c.strong.onEvict = c.demote
	return c
}

func (c *ReclaimableCache) demote(key TileKey, img image.Image) {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		return
	}
	c.weak[key.Path()] = weakEntry{key: key, ptr: weak.Make(rgba)}
}

func (c *ReclaimableCache) Get(key TileKey) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if img, ok := c.strong.Get(key); ok {
		return img, true
	}

	p := key.Path()
	we, ok := c.weak[p]
	if !ok {
		return nil, false
	}
	rgba := we.ptr.Value()
	if rgba == nil {
		delete(c.weak, p)
		return nil, false
	}

	// Promote back into the strong tier; the cleanup attached in Set still
	// tracks this object.
	delete(c.weak, p)
	c.strong.Set(key, rgba)
	return rgba, true
}

func (c *ReclaimableCache) Set(key TileKey, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.weak, key.Path())
	c.strong.Set(key, img)

	if rgba, ok := img.(*image.RGBA); ok {
		runtime.AddCleanup(rgba, reclaimed, reclaimArg{c: c, key: key})
	}
}

func reclaimed(arg reclaimArg) {
	c := arg.c
	p := arg.key.Path()

	c.mu.Lock()
	if we, ok := c.weak[p]; ok && we.ptr.Value() == nil {
		delete(c.weak, p)
	}
	c.mu.Unlock()

	if c.onReclaim != nil {
		c.onReclaim(arg.key)
	}
}

func (c *ReclaimableCache) Has(key TileKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strong.Has(key) {
		return true
	}
	we, ok := c.weak[key.Path()]
	return ok && we.ptr.Value() != nil
}

// Len counts strongly held tiles plus demoted tiles not yet reclaimed.
func (c *ReclaimableCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.strong.Len()
	for _, we := range c.weak {
		if we.ptr.Value() != nil {
			n++
		}
	}
	return n
}

// StrongLen returns the number of tiles pinned by the LRU tier.
func (c *ReclaimableCache) StrongLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.strong.Len()
}

func (c *ReclaimableCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.strong.Clear()
	c.weak = make(map[string]weakEntry)
}
