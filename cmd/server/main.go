package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mapview/internal/config"
	httphandlers "mapview/internal/http"
	"mapview/internal/logger"
	"mapview/internal/maplist"
	"mapview/internal/metrics"
	"mapview/internal/settings"
	"mapview/internal/tiles"
	"mapview/internal/tiles/vipsdecoder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	var decoder tiles.Decoder = tiles.PNGDecoder{}
	if cfg.Decoder.Type == "vips" {
		shutdown := vipsdecoder.Startup(vipsdecoder.Config{
			MaxCacheMB:  cfg.Decoder.VipsMaxCacheMB,
			Concurrency: cfg.Decoder.VipsConcurrency,
		}, log)
		defer shutdown()
		decoder = vipsdecoder.Decoder{}
	}

	log.Info("Starting map preview server",
		zap.Int("port", cfg.Port),
		zap.String("map_root", cfg.MapRoot),
		zap.String("decoder", cfg.Decoder.Type),
	)

	store, err := newSettingsStore(cfg)
	if err != nil {
		log.Fatal("Failed to initialize settings", zap.Error(err))
	}
	prefs, err := store.Load()
	if err != nil {
		log.Warn("Failed to load settings, using defaults", zap.Error(err))
	}
	log.Info("Settings loaded", zap.Bool("show_relief_images", prefs.ShowReliefImages))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	assets := os.DirFS(cfg.MapRoot)

	scanner := maplist.New(assets, log)
	if err := scanner.Scan(); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}

	loader, err := tiles.New(assets, tiles.Options{
		CacheType: cfg.Cache.Type,
		MaxTiles:  cfg.Cache.MaxTiles,
		Workers:   cfg.Cache.PrefetchWorkers,
		QueueSize: cfg.Cache.PrefetchQueue,
		Decoder:   decoder,
		Metrics:   metrics.NewTiles(registry),
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tile loader", zap.Error(err))
	}
	defer loader.Close()

	handlers := httphandlers.New(log, scanner, loader, store, cfg.WarmupEnabled)

	if cfg.MapDir != "" {
		if info := scanner.GetMap(cfg.MapDir); info != nil {
			handlers.SelectMap(info)
		} else {
			log.Warn("Configured map not found", zap.String("map_dir", cfg.MapDir))
		}
	}

	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.RequestLoggingMiddleware(mux),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

func newSettingsStore(cfg *config.Config) (settings.Store, error) {
	if cfg.EphemeralSettings {
		return settings.NewMemoryStore(), nil
	}

	path := cfg.SettingsFile
	if path == "" {
		var err error
		if path, err = settings.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return settings.NewFileStore(path), nil
}
