package cache

import (
	"fmt"

	"go.uber.org/zap"
)

// NewCache creates a cache instance based on the cache type
func NewCache(cacheType string, maxTiles int, onReclaim func(key TileKey), log *zap.Logger) (Cache, error) {
	switch cacheType {
	case "reclaimable":
		log.Info("Using reclaimable cache", zap.Int("max_strong_tiles", maxTiles))
		return NewReclaimableCache(maxTiles, onReclaim), nil
	case "memory":
		log.Info("Using memory cache", zap.Int("max_tiles", maxTiles))
		return NewMemoryCache(maxTiles), nil
	case "disabled":
		log.Info("Cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: reclaimable, memory, disabled)", cacheType)
	}
}
