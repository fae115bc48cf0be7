package demmosaic

import (
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/twpayne/go-proj/v11"
)

// A Projector converts geodetic points to a projected coordinate reference
// system.
type Projector interface {
	Forward(crs string, points []Point) ([]Point, error)
}

// A ProjectedBoundingBox is a bounding box in a projected coordinate
// reference system.
//
// It is built by converting the two corners of a geodetic bounding box
// independently and taking the axis-aligned box around the results. This is
// an approximation that only holds when the region is small compared to the
// distortion of the projection, for example within a single UTM zone. It is
// not a reprojection of the full polygon.
type ProjectedBoundingBox struct {
	BoundingBox
	CRS string
}

// ProjectBoundingBox converts b's corners to crs using projector.
func ProjectBoundingBox(projector Projector, crs string, b BoundingBox) (ProjectedBoundingBox, error) {
	corners, err := projector.Forward(crs, []Point{
		{X: b.MinX, Y: b.MinY},
		{X: b.MaxX, Y: b.MaxY},
	})
	if err != nil {
		return ProjectedBoundingBox{}, err
	}
	if len(corners) != 2 {
		return ProjectedBoundingBox{}, fmt.Errorf("%s: expected 2 corners, got %d", crs, len(corners))
	}
	projected := emptyBoundingBox()
	for _, corner := range corners {
		if math.IsInf(corner.X, 0) || math.IsInf(corner.Y, 0) || math.IsNaN(corner.X) || math.IsNaN(corner.Y) {
			return ProjectedBoundingBox{}, fmt.Errorf("%s: corner %v is not finite", crs, corner)
		}
		projected = projected.Extend(corner)
	}
	return ProjectedBoundingBox{
		BoundingBox: projected,
		CRS:         crs,
	}, nil
}

// UTMZoneCRS returns the WGS84 UTM zone CRS containing p.
func UTMZoneCRS(p Point) string {
	zone := int(math.Floor((p.X+180)/6)) + 1
	zone = min(max(zone, 1), 60)
	if p.Y < 0 {
		return fmt.Sprintf("EPSG:%d", 32700+zone)
	}
	return fmt.Sprintf("EPSG:%d", 32600+zone)
}

// A ProjProjector is a Projector backed by PROJ.
type ProjProjector struct {
	mutex     sync.Mutex
	sourceCRS string
	cacheSize int
	pjCache   *lru.Cache[string, *proj.PJ]
}

// A ProjProjectorOption sets an option on a ProjProjector.
type ProjProjectorOption func(*ProjProjector)

// NewProjProjector returns a new ProjProjector with the given options.
func NewProjProjector(options ...ProjProjectorOption) (*ProjProjector, error) {
	p := &ProjProjector{
		sourceCRS: "EPSG:4326",
		cacheSize: 8,
	}
	for _, option := range options {
		option(p)
	}

	var err error
	p.pjCache, err = lru.NewWithEvict(p.cacheSize, func(key string, value *proj.PJ) {
		projectorCacheEvictions.Inc()
		value.Destroy()
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func WithProjectorCacheSize(cacheSize int) ProjProjectorOption {
	return func(p *ProjProjector) {
		p.cacheSize = cacheSize
	}
}

func WithSourceCRS(sourceCRS string) ProjProjectorOption {
	return func(p *ProjProjector) {
		p.sourceCRS = sourceCRS
	}
}

// Forward converts points, with X as longitude and Y as latitude, to crs.
// The returned points have X as easting and Y as northing.
func (p *ProjProjector) Forward(crs string, points []Point) ([]Point, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	pj, err := p.getPJCached(crs)
	if err != nil {
		return nil, err
	}

	coords := make([][]float64, len(points))
	for i, point := range points {
		coords[i] = []float64{point.X, point.Y}
	}
	if err := pj.ForwardFloat64Slices(coords); err != nil {
		return nil, err
	}

	result := make([]Point, len(coords))
	for i, coord := range coords {
		result[i] = Point{X: coord[0], Y: coord[1]}
	}
	return result, nil
}

// Close releases all cached transformations.
func (p *ProjProjector) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pjCache.Purge()
}

// getPJCached returns a transformation to crs, using the cache if possible.
// p.mutex must be held.
func (p *ProjProjector) getPJCached(crs string) (*proj.PJ, error) {
	if pj, ok := p.pjCache.Get(crs); ok {
		projectorCacheHits.Inc()
		return pj, nil
	}
	projectorCacheMisses.Inc()

	pj, err := proj.NewCRSToCRS(p.sourceCRS, crs, nil)
	if err != nil {
		return nil, fmt.Errorf("%s to %s: %w", p.sourceCRS, crs, err)
	}
	// Normalize so that input is longitude, latitude and output is easting,
	// northing regardless of the axis order of either CRS.
	normalizedPJ, err := pj.NormalizeForVisualization()
	pj.Destroy()
	if err != nil {
		return nil, fmt.Errorf("%s to %s: %w", p.sourceCRS, crs, err)
	}
	p.pjCache.Add(crs, normalizedPJ)
	return normalizedPJ, nil
}
