package cache

import (
	"container/list"
	"image"
	"sync"
)

type entry struct {
	key TileKey
	img image.Image
}

// MemoryCache implements in-memory LRU cache bounded by tile count
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	lruList *list.List

	// onEvict is called with the lock held for every entry pushed out by Set.
	onEvict func(key TileKey, img image.Image)
}

// NewMemoryCache creates a new in-memory LRU cache
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &MemoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lruList: list.New(),
	}
}

func (c *MemoryCache) Has(key TileKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key.Path()]
	return ok
}

func (c *MemoryCache) Get(key TileKey) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key.Path()]
	if !ok {
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	return elem.Value.(*entry).img, true
}

func (c *MemoryCache) Set(key TileKey, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := key.Path()
	if elem, ok := c.items[p]; ok {
		elem.Value.(*entry).img = img
		c.lruList.MoveToFront(elem)
		return
	}

	for c.lruList.Len() >= c.maxSize {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		ent := oldest.Value.(*entry)
		delete(c.items, ent.key.Path())
		c.lruList.Remove(oldest)
		if c.onEvict != nil {
			c.onEvict(ent.key, ent.img)
		}
	}

	elem := c.lruList.PushFront(&entry{key: key, img: img})
	c.items[p] = elem
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lruList.Len()
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lruList = list.New()
}
