package tiles

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mapview/internal/cache"
	"mapview/internal/metrics"
)

// ErrDecode marks a tile whose source exists but could not be read or decoded.
var ErrDecode = errors.New("tile decode failed")

type Options struct {
	CacheType string // reclaimable, memory or disabled
	MaxTiles  int
	Workers   int // prefetch concurrency
	QueueSize int // pending prefetches; more are dropped
	Decoder   Decoder
	Metrics   *metrics.Tiles
}

// Loader loads map tiles from an asset tree and caches the normalized images.
//
// Loads of the same tile are coalesced: a Get that arrives while a prefetch
// or another Get decodes that tile waits for it instead of decoding again.
// Every SetMapDirectory starts a new generation; loads begun in an older
// generation still finish for their callers but are never stored.
type Loader struct {
	assets  fs.FS
	decoder Decoder
	cache   cache.Cache
	metrics *metrics.Tiles
	logger  *zap.Logger

	mu         sync.Mutex
	mapDir     string
	generation string
	closed     bool

	group   singleflight.Group
	jobs    chan prefetchJob
	pending sync.WaitGroup
	workers sync.WaitGroup
	once    sync.Once
}

type prefetchJob struct {
	req  request
	kind Kind
}

// request is a tile key bound to the generation it was made in.
type request struct {
	key        cache.TileKey
	generation string
}

func (r request) flight() string {
	return r.generation + ":" + r.key.Path()
}

type Stats struct {
	MapDir     string `json:"map_dir"`
	Generation string `json:"generation"`
	Live       int    `json:"live"`
}

// New creates a loader reading tiles from assets, the map assets root.
func New(assets fs.FS, opts Options, logger *zap.Logger) (*Loader, error) {
	if opts.Decoder == nil {
		opts.Decoder = PNGDecoder{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewTiles(prometheus.NewRegistry())
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.CacheType == "" {
		opts.CacheType = "reclaimable"
	}

	l := &Loader{
		assets:     assets,
		decoder:    opts.Decoder,
		metrics:    opts.Metrics,
		logger:     logger,
		generation: uuid.New().String(),
		jobs:       make(chan prefetchJob, opts.QueueSize),
	}

	tileCache, err := cache.NewCache(opts.CacheType, opts.MaxTiles, l.onReclaim, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}
	l.cache = tileCache

	l.workers.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go l.prefetchWorker()
	}

	return l, nil
}

func (l *Loader) onReclaim(key cache.TileKey) {
	l.metrics.Reclaimed.Inc()
	live := l.cache.Len()
	l.metrics.Live.Set(float64(live))
	l.logger.Debug("Removed reclaimed tile", zap.String("path", key.Path()), zap.Int("live", live))
}

// SetMapDirectory switches to another map and drops every cached tile.
// Images already handed out stay valid for their holders.
func (l *Loader) SetMapDirectory(dir string) {
	l.mu.Lock()
	l.mapDir = dir
	l.generation = uuid.New().String()
	l.cache.Clear()
	generation := l.generation
	l.mu.Unlock()

	l.metrics.Clears.Inc()
	l.metrics.Live.Set(0)
	l.logger.Info("Map directory changed", zap.String("map_dir", dir), zap.String("generation", generation))
}

func (l *Loader) MapDirectory() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.mapDir
}

func (l *Loader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		MapDir:     l.mapDir,
		Generation: l.generation,
		Live:       l.cache.Len(),
	}
}

func (l *Loader) request(kind Kind, x, y int) request {
	l.mu.Lock()
	defer l.mu.Unlock()

	return request{
		key:        cache.TileKey{MapDir: l.mapDir, KindDir: kind.Dir(), X: x, Y: y},
		generation: l.generation,
	}
}

// Get returns the tile at (x, y), loading it if needed. ok is false when the
// map has no such tile. If the tile is being loaded elsewhere Get waits for
// that load; ctx only bounds the wait, the load itself always completes.
func (l *Loader) Get(ctx context.Context, kind Kind, x, y int) (image.Image, bool, error) {
	req := l.request(kind, x, y)

	if img, ok := l.cache.Get(req.key); ok {
		l.metrics.Hits.Inc()
		return img, true, nil
	}
	l.metrics.Misses.Inc()

	ch := l.group.DoChan(req.flight(), func() (any, error) {
		return l.load(req, kind)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		img, ok := res.Val.(image.Image)
		if !ok || img == nil {
			return nil, false, nil
		}
		return img, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (l *Loader) BaseTile(ctx context.Context, x, y int) (image.Image, bool, error) {
	return l.Get(ctx, KindBase, x, y)
}

func (l *Loader) ReliefTile(ctx context.Context, x, y int) (image.Image, bool, error) {
	return l.Get(ctx, KindRelief, x, y)
}

// Prefetch queues the tile for a background load and returns at once.
// Nothing is guaranteed to be cached when it returns; a later Get joins the
// running load or decodes the tile itself. When the queue is full the
// request is dropped.
func (l *Loader) Prefetch(kind Kind, x, y int) {
	req := l.request(kind, x, y)
	if l.cache.Has(req.key) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.pending.Add(1)
	select {
	case l.jobs <- prefetchJob{req: req, kind: kind}:
	default:
		l.pending.Done()
		l.logger.Debug("Prefetch queue full, dropping tile", zap.String("path", req.key.Path()))
	}
}

func (l *Loader) PrefetchBase(x, y int) {
	l.Prefetch(KindBase, x, y)
}

func (l *Loader) PrefetchRelief(x, y int) {
	l.Prefetch(KindRelief, x, y)
}

func (l *Loader) prefetchWorker() {
	defer l.workers.Done()

	for job := range l.jobs {
		_, err, _ := l.group.Do(job.req.flight(), func() (any, error) {
			return l.load(job.req, job.kind)
		})
		if err != nil {
			l.logger.Warn("Prefetch tile failed", zap.String("path", job.req.key.Path()), zap.Error(err))
		}
		l.pending.Done()
	}
}

// Wait blocks until every queued prefetch has been processed.
func (l *Loader) Wait() {
	l.pending.Wait()
}

// Close finishes the queued prefetches and stops the workers. Prefetch
// becomes a no-op afterwards; Get keeps working.
func (l *Loader) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.jobs)
		l.mu.Unlock()

		l.workers.Wait()
	})
}

// load runs once per key and generation at a time. It returns a nil value
// without error when the tile has no source file.
func (l *Loader) load(req request, kind Kind) (any, error) {
	key := req.key

	// A load that finished between the caller's lookup and this flight
	// already stored the tile.
	if img, ok := l.cache.Get(key); ok {
		return img, nil
	}

	path := key.Path()
	f, err := l.assets.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.metrics.Absent.Inc()
			return nil, nil
		}
		l.metrics.DecodeErrors.WithLabelValues(kind.String()).Inc()
		return nil, fmt.Errorf("%w: open %s: %w", ErrDecode, path, err)
	}
	defer f.Close()

	start := time.Now()
	img, err := l.decoder.Decode(f, kind.Transparent())
	if err != nil {
		l.metrics.DecodeErrors.WithLabelValues(kind.String()).Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	duration := time.Since(start)

	l.metrics.Decodes.WithLabelValues(kind.String()).Inc()
	l.metrics.DecodeDuration.Observe(duration.Seconds())

	// Store only while the generation that asked for the tile is current;
	// SetMapDirectory clears under the same lock.
	l.mu.Lock()
	stale := l.generation != req.generation
	if !stale {
		l.cache.Set(key, img)
	}
	l.mu.Unlock()

	if stale {
		l.logger.Debug("Dropped tile loaded before map directory change", zap.String("path", path))
		return img, nil
	}

	live := l.cache.Len()
	l.metrics.Live.Set(float64(live))

	l.logger.Debug("Loaded tile",
		zap.String("path", path),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
		zap.Int64("duration_us", duration.Microseconds()),
		zap.Int("live", live),
	)

	return img, nil
}
