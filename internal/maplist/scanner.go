package maplist

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"mapview/internal/route"
)

const metadataFile = "map.json"

type MapInfo struct {
	Name        string         `json:"name"`
	Geometry    route.Geometry `json:"geometry"`
	TilesX      int            `json:"tiles_x"`
	TilesY      int            `json:"tiles_y"`
	TileWidth   int            `json:"tile_width"`
	TileHeight  int            `json:"tile_height"`
	BaseTiles   int            `json:"base_tiles"`
	ReliefTiles int            `json:"relief_tiles"`
}

// TileCoord is the grid position parsed from a tile file name.
type TileCoord struct {
	X int
	Y int
}

// Scanner discovers maps below the map assets root. A map is any top level
// directory containing a baseTiles directory.
type Scanner struct {
	assets fs.FS
	logger *zap.Logger

	mu   sync.RWMutex
	maps []MapInfo
}

func New(assets fs.FS, logger *zap.Logger) *Scanner {
	return &Scanner{
		assets: assets,
		logger: logger,
		maps:   []MapInfo{},
	}
}

func (s *Scanner) Scan() error {
	entries, err := fs.ReadDir(s.assets, ".")
	if err != nil {
		return fmt.Errorf("failed to read map root: %w", err)
	}

	maps := []MapInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := s.scanMap(entry.Name())
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("Failed to scan map", zap.String("map", entry.Name()), zap.Error(err))
			}
			continue
		}
		maps = append(maps, *info)
	}

	s.mu.Lock()
	s.maps = maps
	s.mu.Unlock()

	s.logger.Info("Scanned maps", zap.Int("maps", len(maps)))
	return nil
}

func (s *Scanner) scanMap(name string) (*MapInfo, error) {
	base, err := s.Tiles(name, "baseTiles")
	if err != nil {
		return nil, err
	}
	relief, err := s.Tiles(name, "reliefTiles")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	info := &MapInfo{
		Name:        name,
		BaseTiles:   len(base),
		ReliefTiles: len(relief),
	}
	info.TilesX, info.TilesY = extent(base)

	if len(base) > 0 {
		first := path.Join(name, "baseTiles", fmt.Sprintf("%d_%d.png", base[0].X, base[0].Y))
		if w, h, err := s.tileSize(first); err != nil {
			s.logger.Warn("Failed to read tile size", zap.String("path", first), zap.Error(err))
		} else {
			info.TileWidth, info.TileHeight = w, h
		}
	}

	geometry, err := s.loadMetadata(path.Join(name, metadataFile))
	switch {
	case err == nil:
		info.Geometry = *geometry
	case errors.Is(err, fs.ErrNotExist):
		info.Geometry = route.Geometry{
			Width:  info.TilesX * info.TileWidth,
			Height: info.TilesY * info.TileHeight,
		}
	default:
		s.logger.Warn("Failed to load map metadata, using tile extent", zap.String("map", name), zap.Error(err))
		info.Geometry = route.Geometry{
			Width:  info.TilesX * info.TileWidth,
			Height: info.TilesY * info.TileHeight,
		}
	}

	return info, nil
}

// Tiles lists the grid coordinates of the tiles of one kind directory,
// ordered by row then column. Files not named {x}_{y}.png are ignored.
func (s *Scanner) Tiles(mapName, kindDir string) ([]TileCoord, error) {
	entries, err := fs.ReadDir(s.assets, path.Join(mapName, kindDir))
	if err != nil {
		return nil, err
	}

	coords := []TileCoord{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if c, ok := ParseTileName(entry.Name()); ok {
			coords = append(coords, c)
		}
	}

	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Y != coords[j].Y {
			return coords[i].Y < coords[j].Y
		}
		return coords[i].X < coords[j].X
	})
	return coords, nil
}

// ParseTileName parses "{x}_{y}.png".
func ParseTileName(name string) (TileCoord, bool) {
	stem, ok := strings.CutSuffix(strings.ToLower(name), ".png")
	if !ok {
		return TileCoord{}, false
	}
	xs, ys, ok := strings.Cut(stem, "_")
	if !ok {
		return TileCoord{}, false
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return TileCoord{}, false
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return TileCoord{}, false
	}
	return TileCoord{X: x, Y: y}, true
}

// extent returns the grid size spanned by coords. Tiles may sit at negative
// coordinates, so the span runs from the smallest to the largest index.
func extent(coords []TileCoord) (int, int) {
	if len(coords) == 0 {
		return 0, 0
	}
	minX, maxX := coords[0].X, coords[0].X
	minY, maxY := coords[0].Y, coords[0].Y
	for _, c := range coords[1:] {
		minX, maxX = min(minX, c.X), max(maxX, c.X)
		minY, maxY = min(minY, c.Y), max(maxY, c.Y)
	}
	return maxX - minX + 1, maxY - minY + 1
}

func (s *Scanner) tileSize(p string) (int, int, error) {
	f, err := s.assets.Open(p)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func (s *Scanner) loadMetadata(p string) (*route.Geometry, error) {
	data, err := fs.ReadFile(s.assets, p)
	if err != nil {
		return nil, err
	}

	var geometry route.Geometry
	if err := json.Unmarshal(data, &geometry); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if geometry.Width <= 0 || geometry.Height <= 0 {
		return nil, fmt.Errorf("invalid map size %dx%d", geometry.Width, geometry.Height)
	}

	return &geometry, nil
}

func (s *Scanner) GetMaps() []MapInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MapInfo, len(s.maps))
	copy(out, s.maps)
	return out
}

func (s *Scanner) GetMap(name string) *MapInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.maps {
		if m.Name == name {
			return &m
		}
	}
	return nil
}
