package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		Port    int    `env:"PORT" envDefault:"8080"`
		MapRoot string `env:"MAP_ROOT" envDefault:"maps"`
		MapDir  string `env:"MAP_DIR"`

		Cache   Cache   `envPrefix:"CACHE_"`
		Decoder Decoder `envPrefix:"DECODER_"`
		Log     Log     `envPrefix:"LOG_"`

		WarmupEnabled bool   `env:"WARMUP" envDefault:"false"`
		SettingsFile  string `env:"SETTINGS_FILE"`
		// Keep the relief toggle in memory only.
		EphemeralSettings bool `env:"SETTINGS_EPHEMERAL" envDefault:"false"`
	}

	Cache struct {
		Type            string `env:"TYPE" envDefault:"reclaimable"`
		MaxTiles        int    `env:"MAX_TILES" envDefault:"256"`
		PrefetchWorkers int    `env:"PREFETCH_WORKERS" envDefault:"4"`
		PrefetchQueue   int    `env:"PREFETCH_QUEUE" envDefault:"1024"`
	}

	Decoder struct {
		Type            string `env:"TYPE" envDefault:"png"`
		VipsMaxCacheMB  int    `env:"VIPS_MAX_CACHE_MB" envDefault:"64"`
		VipsConcurrency int    `env:"VIPS_CONCURRENCY" envDefault:"1"`
	}

	Log struct {
		Level    string `env:"LEVEL" envDefault:"info"`
		Encoding string `env:"ENCODING" envDefault:"json"`
	}
)

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Cache.Type {
	case "reclaimable", "memory", "disabled":
	default:
		return fmt.Errorf("unknown cache type: %s (supported: reclaimable, memory, disabled)", c.Cache.Type)
	}
	switch c.Decoder.Type {
	case "png", "vips":
	default:
		return fmt.Errorf("unknown decoder: %s (supported: png, vips)", c.Decoder.Type)
	}
	if c.Cache.MaxTiles <= 0 {
		return fmt.Errorf("CACHE_MAX_TILES must be positive, got %d", c.Cache.MaxTiles)
	}
	return nil
}
