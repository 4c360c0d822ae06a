// Package vipsdecoder decodes tiles with libvips. It needs cgo and libvips
// at build time, so it lives apart from the tiles package.
package vipsdecoder

import (
	"fmt"
	"image"
	"io"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

type Config struct {
	MaxCacheMB  int
	Concurrency int
}

// Startup initializes libvips and routes its warnings and errors to log.
// The returned function shuts libvips down.
func Startup(cfg Config, log *zap.Logger) func() {
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelWarning)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: cfg.Concurrency,
		MaxCacheMem:      cfg.MaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	})

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.MaxCacheMB),
		zap.Int("concurrency", cfg.Concurrency),
	)

	return vips.Shutdown
}

// Decoder decodes and normalizes tiles inside libvips. Colour conversion,
// 8-bit casting and the flattening of opaque tiles onto black all happen in
// vips; the raw pixels are then wrapped without another decode pass.
type Decoder struct{}

var black = []float64{0, 0, 0}

func (Decoder) Decode(r io.Reader, transparent bool) (*image.RGBA, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile: %w", err)
	}

	img, err := vips.NewPngloadBuffer(buf, vips.DefaultPngloadBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to load tile: %w", err)
	}
	defer img.Close()

	if img.Interpretation() != vips.InterpretationSrgb {
		if err := img.Colourspace(vips.InterpretationSrgb, vips.DefaultColourspaceOptions()); err != nil {
			return nil, fmt.Errorf("failed to convert tile to sRGB: %w", err)
		}
	}
	if img.BandFormat() != vips.BandFormatUchar {
		if err := img.Cast(vips.BandFormatUchar, vips.DefaultCastOptions()); err != nil {
			return nil, fmt.Errorf("failed to cast tile to 8 bit: %w", err)
		}
	}
	if !transparent && img.HasAlpha() {
		opts := vips.DefaultFlattenOptions()
		opts.Background = black
		if err := img.Flatten(opts); err != nil {
			return nil, fmt.Errorf("failed to flatten tile: %w", err)
		}
	}

	raw, err := img.RawsaveBuffer(vips.DefaultRawsaveBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to export tile pixels: %w", err)
	}

	return fromRaw(raw, img.Width(), img.Height(), img.Bands())
}

// fromRaw wraps interleaved 8-bit sRGB pixels. Four band input carries
// straight alpha and is premultiplied on copy; three band input is opaque.
func fromRaw(raw []byte, width, height, bands int) (*image.RGBA, error) {
	if len(raw) != width*height*bands {
		return nil, fmt.Errorf("raw tile is %d bytes, want %dx%dx%d", len(raw), width, height, bands)
	}

	rect := image.Rect(0, 0, width, height)
	dst := image.NewRGBA(rect)

	switch bands {
	case 4:
		src := &image.NRGBA{Pix: raw, Stride: width * 4, Rect: rect}
		draw.Copy(dst, image.Point{}, src, rect, draw.Src, nil)
	case 3:
		for i, j := 0, 0; i < len(raw); i, j = i+3, j+4 {
			dst.Pix[j] = raw[i]
			dst.Pix[j+1] = raw[i+1]
			dst.Pix[j+2] = raw[i+2]
			dst.Pix[j+3] = 0xff
		}
	default:
		return nil, fmt.Errorf("unsupported band count %d", bands)
	}
	return dst, nil
}
