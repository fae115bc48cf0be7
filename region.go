package demmosaic

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// A Point is a two dimensional point. For geodetic points X is the longitude
// and Y is the latitude.
type Point struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// A BoundingBox is an axis-aligned bounding box.
type BoundingBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// emptyBoundingBox returns a bounding box that contains nothing, ready to have
// points folded in.
func emptyBoundingBox() BoundingBox {
	return BoundingBox{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

// Extend returns b extended to include p.
func (b BoundingBox) Extend(p Point) BoundingBox {
	return BoundingBox{
		MinX: min(b.MinX, p.X),
		MinY: min(b.MinY, p.Y),
		MaxX: max(b.MaxX, p.X),
		MaxY: max(b.MaxY, p.Y),
	}
}

// Center returns the center of b.
func (b BoundingBox) Center() Point {
	return Point{
		X: (b.MinX + b.MaxX) / 2,
		Y: (b.MinY + b.MaxY) / 2,
	}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%g %g %g %g]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// A Region is an ordered sequence of geodetic points defining a query
// polygon.
type Region struct {
	points      []Point
	boundingBox BoundingBox
}

// NewRegion returns a new Region from coords, a flat sequence of alternating
// longitudes and latitudes.
func NewRegion(coords []float64) (*Region, error) {
	switch {
	case len(coords) == 0:
		return nil, fmt.Errorf("%w: no coordinates", ErrInvalidInput)
	case len(coords)%2 != 0:
		return nil, fmt.Errorf("%w: odd number of coordinates (%d)", ErrInvalidInput, len(coords))
	}
	r := &Region{
		points:      make([]Point, 0, len(coords)/2),
		boundingBox: emptyBoundingBox(),
	}
	for i := 0; i < len(coords); i += 2 {
		lon, lat := coords[i], coords[i+1]
		if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
			return nil, fmt.Errorf("%w: coordinate pair %d is not finite", ErrInvalidInput, i/2)
		}
		p := Point{X: lon, Y: lat}
		r.points = append(r.points, p)
		r.boundingBox = r.boundingBox.Extend(p)
	}
	return r, nil
}

// ParseRegion parses args, a list of alternating longitudes and latitudes, and
// returns a new Region.
func ParseRegion(args []string) (*Region, error) {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, fmt.Errorf("%w: expected an even, non-zero number of coordinates, got %d", ErrInvalidInput, len(args))
	}
	coords := make([]float64, len(args))
	for i, arg := range args {
		coord, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidInput, arg, err)
		}
		coords[i] = coord
	}
	return NewRegion(coords)
}

// Points returns r's points.
func (r *Region) Points() []Point {
	return r.points
}

// BoundingBox returns r's geodetic bounding box.
func (r *Region) BoundingBox() BoundingBox {
	return r.boundingBox
}

// PolygonQuery returns r's points URL-encoded for a catalog query. The points
// are in their original order, each encoded as "longitude%20latitude", and
// separated by commas.
func (r *Region) PolygonQuery() string {
	parts := make([]string, len(r.points))
	for i, p := range r.points {
		parts[i] = formatFloat(p.X) + "%20" + formatFloat(p.Y)
	}
	return strings.Join(parts, ",")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
