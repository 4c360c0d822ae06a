// Package route computes on-screen routes for maps whose edges wrap around.
//
// A map that wraps horizontally and/or vertically is drawn next to translated
// copies of itself. A route that crosses a wrapping edge has to be drawn
// through the neighbouring copy, otherwise it would snap back across the
// whole map.
package route

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// ErrInvalidArgument is returned for malformed coordinate input.
var ErrInvalidArgument = errors.New("invalid argument")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Translation is a pure translation affine transform.
type Translation f64.Aff3

func NewTranslation(dx, dy float64) Translation {
	return Translation{
		1, 0, dx,
		0, 1, dy,
	}
}

func (t Translation) Offset() (dx, dy float64) {
	return t[2], t[5]
}

func (t Translation) Apply(p Point) Point {
	return Point{
		X: t[0]*p.X + t[1]*p.Y + t[2],
		Y: t[3]*p.X + t[4]*p.Y + t[5],
	}
}

// Polyline is a path starting at its first point with a line to each
// following point.
type Polyline []Point

func (pl Polyline) Translate(t Translation) Polyline {
	out := make(Polyline, len(pl))
	for i, p := range pl {
		out[i] = t.Apply(p)
	}
	return out
}

// Geometry describes the map a route is drawn on.
type Geometry struct {
	WrapX  bool `json:"wrap_x"`
	WrapY  bool `json:"wrap_y"`
	Width  int  `json:"width"`
	Height int  `json:"height"`
}

// Calculator is immutable and safe for concurrent use.
type Calculator struct {
	geometry Geometry
}

func New(wrapX, wrapY bool, width, height int) *Calculator {
	return NewFromGeometry(Geometry{WrapX: wrapX, WrapY: wrapY, Width: width, Height: height})
}

func NewFromGeometry(g Geometry) *Calculator {
	return &Calculator{geometry: g}
}

func (c *Calculator) Geometry() Geometry {
	return c.geometry
}

// Translations returns the offsets of every map copy a route may pass
// through, identity first. A map wrapping on both axes yields the identity
// and the four diagonal copies only.
func (c *Calculator) Translations() []Translation {
	g := c.geometry
	w, h := float64(g.Width), float64(g.Height)

	result := make([]Translation, 0, 5)
	result = append(result, NewTranslation(0, 0))

	switch {
	case g.WrapX && g.WrapY:
		result = append(result,
			NewTranslation(-w, -h),
			NewTranslation(-w, +h),
			NewTranslation(+w, -h),
			NewTranslation(+w, +h),
		)
	case g.WrapX:
		result = append(result,
			NewTranslation(-w, 0),
			NewTranslation(+w, 0),
		)
	case g.WrapY:
		result = append(result,
			NewTranslation(0, -h),
			NewTranslation(0, +h),
		)
	}
	return result
}

// PossiblePoints returns p shifted by every translation, in translation order.
func (c *Calculator) PossiblePoints(p Point) []Point {
	translations := c.Translations()
	points := make([]Point, len(translations))
	for i, t := range translations {
		points[i] = t.Apply(p)
	}
	return points
}

// ClosestPoint returns the first point of pool nearest to source.
// ok is false for an empty pool.
func ClosestPoint(source Point, pool []Point) (Point, bool) {
	if len(pool) == 0 {
		return Point{}, false
	}

	best := pool[0]
	bestDist := source.Distance(best)
	for _, p := range pool[1:] {
		if d := source.Distance(p); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, true
}

// TranslatedRoute returns route with every point after the first moved to
// the map copy closest to the previous, already moved, point. Routes on maps
// that do not wrap are returned unchanged, as are empty routes.
func (c *Calculator) TranslatedRoute(route []Point) []Point {
	if len(route) == 0 || (!c.geometry.WrapX && !c.geometry.WrapY) {
		return route
	}

	result := make([]Point, len(route))
	result[0] = route[0]
	for i := 1; i < len(route); i++ {
		result[i], _ = ClosestPoint(result[i-1], c.PossiblePoints(route[i]))
	}
	return result
}

// AllPoints returns, for each translation, all points shifted by that same
// translation.
func (c *Calculator) AllPoints(points []Point) [][]Point {
	translations := c.Translations()
	if len(points) == 0 {
		return [][]Point{}
	}

	all := make([][]Point, len(translations))
	for i, t := range translations {
		shifted := make([]Point, len(points))
		for j, p := range points {
			shifted[j] = t.Apply(p)
		}
		all[i] = shifted
	}
	return all
}

func normalizedLine(xs, ys []float64) (Polyline, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: x coordinates must contain at least one element", ErrInvalidArgument)
	}
	if len(ys) == 0 {
		return nil, fmt.Errorf("%w: y coordinates must contain at least one element", ErrInvalidArgument)
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: got %d x coordinates and %d y coordinates", ErrInvalidArgument, len(xs), len(ys))
	}

	line := make(Polyline, len(xs))
	for i := range xs {
		line[i] = Point{X: xs[i], Y: ys[i]}
	}
	return line, nil
}

// AllNormalizedLines builds the polyline through (xs[i], ys[i]) and returns
// one copy of it per translation.
func (c *Calculator) AllNormalizedLines(xs, ys []float64) ([]Polyline, error) {
	line, err := normalizedLine(xs, ys)
	if err != nil {
		return nil, err
	}

	translations := c.Translations()
	lines := make([]Polyline, len(translations))
	for i, t := range translations {
		lines[i] = line.Translate(t)
	}
	return lines, nil
}
