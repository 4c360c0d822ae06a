package cache

import (
	"fmt"
	"image"
	"path"
)

// TileKey identifies one tile image of one map.
// The cache key is the tile's relative path: {mapDir}/{kindDir}/{x}_{y}.png
type TileKey struct {
	MapDir  string
	KindDir string
	X       int
	Y       int
}

// Path returns the slash separated path of the tile below the map assets root.
func (k TileKey) Path() string {
	return path.Join(k.MapDir, k.KindDir, fmt.Sprintf("%d_%d.png", k.X, k.Y))
}

func (k TileKey) String() string {
	return k.Path()
}

type Cache interface {
	Get(key TileKey) (image.Image, bool)
	Set(key TileKey, img image.Image)
	Has(key TileKey) bool // Check without touching recency
	Len() int
	Clear()
}
