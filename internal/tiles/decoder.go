package tiles

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/draw"
)

// Decoder turns an encoded tile into a normalized RGBA image anchored at the
// origin. Opaque tiles carry no transparency; transparent ones keep their
// alpha channel.
type Decoder interface {
	Decode(r io.Reader, transparent bool) (*image.RGBA, error)
}

// PNGDecoder decodes tiles with the standard library codec.
type PNGDecoder struct{}

func (PNGDecoder) Decode(r io.Reader, transparent bool) (*image.RGBA, error) {
	src, err := png.Decode(r)
	if err != nil {
		return nil, err
	}
	return Normalize(src, transparent), nil
}

// Normalize copies src into a fresh RGBA image anchored at the origin.
// Opaque tiles are flattened onto black so drawing them never blends;
// transparent tiles keep their alpha channel untouched.
// The decoder's buffers can be released once this returns.
func Normalize(src image.Image, transparent bool) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if transparent {
		draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
		return dst
	}

	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Copy(dst, image.Point{}, src, b, draw.Over, nil)
	return dst
}
