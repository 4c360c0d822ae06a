package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tiles holds the tile loader collectors. Each loader gets its own set so
// tests can register against a private registry.
type Tiles struct {
	Live           prometheus.Gauge
	Hits           prometheus.Counter
	Misses         prometheus.Counter
	Absent         prometheus.Counter
	Decodes        *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	DecodeDuration prometheus.Histogram
	Reclaimed      prometheus.Counter
	Clears         prometheus.Counter
}

func NewTiles(reg prometheus.Registerer) *Tiles {
	f := promauto.With(reg)

	return &Tiles{
		Live: f.NewGauge(prometheus.GaugeOpts{
			Name: "tiles_live",
			Help: "Number of tile images currently held by the cache",
		}),
		Hits: f.NewCounter(prometheus.CounterOpts{
			Name: "tiles_cache_hits_total",
			Help: "Total number of tile cache hits",
		}),
		Misses: f.NewCounter(prometheus.CounterOpts{
			Name: "tiles_cache_misses_total",
			Help: "Total number of tile cache misses",
		}),
		Absent: f.NewCounter(prometheus.CounterOpts{
			Name: "tiles_absent_total",
			Help: "Total number of requests for tiles without a source file",
		}),
		Decodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiles_decodes_total",
			Help: "Total number of decoded tiles",
		}, []string{"kind"}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tiles_decode_errors_total",
			Help: "Total number of failed tile decodes",
		}, []string{"kind"}),
		DecodeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiles_decode_duration_seconds",
			Help:    "Duration of tile decode and normalization in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		Reclaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "tiles_reclaimed_total",
			Help: "Total number of cached tiles freed by the garbage collector",
		}),
		Clears: f.NewCounter(prometheus.CounterOpts{
			Name: "tiles_cache_clears_total",
			Help: "Total number of cache invalidations caused by map directory changes",
		}),
	}
}
