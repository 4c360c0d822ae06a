package cache

import "image"

type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(key TileKey) (image.Image, bool) {
	return nil, false
}

func (c *NoopCache) Set(key TileKey, img image.Image) {
}

func (c *NoopCache) Has(key TileKey) bool {
	return false
}

func (c *NoopCache) Len() int {
	return 0
}

func (c *NoopCache) Clear() {
}
