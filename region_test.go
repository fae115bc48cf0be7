package demmosaic_test

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-demmosaic"
)

func TestNewRegion(t *testing.T) {
	for _, tc := range []struct {
		name                 string
		coords               []float64
		expectedBoundingBox  demmosaic.BoundingBox
		expectedPolygonQuery string
	}{
		{
			name:   "galveston",
			coords: []float64{-94.8035, 29.2885, -94.802, 29.29},
			expectedBoundingBox: demmosaic.BoundingBox{
				MinX: -94.8035,
				MinY: 29.2885,
				MaxX: -94.802,
				MaxY: 29.29,
			},
			expectedPolygonQuery: "-94.8035%2029.2885,-94.802%2029.29",
		},
		{
			name:   "single_point",
			coords: []float64{-104.9903, 39.7392},
			expectedBoundingBox: demmosaic.BoundingBox{
				MinX: -104.9903,
				MinY: 39.7392,
				MaxX: -104.9903,
				MaxY: 39.7392,
			},
			expectedPolygonQuery: "-104.9903%2039.7392",
		},
		{
			name: "polygon_order_preserved",
			coords: []float64{
				-105, 40,
				-104, 40,
				-104, 39,
				-105, 39,
				-105, 40,
			},
			expectedBoundingBox: demmosaic.BoundingBox{
				MinX: -105,
				MinY: 39,
				MaxX: -104,
				MaxY: 40,
			},
			expectedPolygonQuery: "-105%2040,-104%2040,-104%2039,-105%2039,-105%2040",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			region, err := demmosaic.NewRegion(tc.coords)
			assert.NoError(t, err)
			assert.Equal(t, tc.expectedBoundingBox, region.BoundingBox())
			assert.Equal(t, tc.expectedPolygonQuery, region.PolygonQuery())
			assert.Equal(t, len(tc.coords)/2, len(region.Points()))
		})
	}
}

func TestNewRegion_Errors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		coords []float64
	}{
		{
			name: "nil",
		},
		{
			name:   "empty",
			coords: []float64{},
		},
		{
			name:   "odd",
			coords: []float64{-94.8035, 29.2885, -94.802},
		},
		{
			name:   "nan",
			coords: []float64{math.NaN(), 29.2885},
		},
		{
			name:   "inf",
			coords: []float64{-94.8035, math.Inf(1)},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := demmosaic.NewRegion(tc.coords)
			assert.Error(t, err)
			assert.True(t, errors.Is(err, demmosaic.ErrInvalidInput))
		})
	}
}

func TestParseRegion(t *testing.T) {
	region, err := demmosaic.ParseRegion([]string{"-94.8035", "29.2885", "-94.802", "29.29"})
	assert.NoError(t, err)
	assert.Equal(t, demmosaic.BoundingBox{
		MinX: -94.8035,
		MinY: 29.2885,
		MaxX: -94.802,
		MaxY: 29.29,
	}, region.BoundingBox())

	for _, args := range [][]string{
		nil,
		{"-94.8035"},
		{"-94.8035", "north"},
	} {
		_, err := demmosaic.ParseRegion(args)
		assert.True(t, errors.Is(err, demmosaic.ErrInvalidInput))
	}
}

func TestRegion_BoundingBoxIsFold(t *testing.T) {
	r := rand.New(rand.NewPCG(0, 0))
	for range 1024 {
		coords := make([]float64, 2*(1+r.IntN(16)))
		for i := range coords {
			coords[i] = 360*r.Float64() - 180
		}
		region, err := demmosaic.NewRegion(coords)
		assert.NoError(t, err)

		expected := demmosaic.BoundingBox{
			MinX: coords[0],
			MinY: coords[1],
			MaxX: coords[0],
			MaxY: coords[1],
		}
		for i := 2; i < len(coords); i += 2 {
			expected.MinX = min(expected.MinX, coords[i])
			expected.MaxX = max(expected.MaxX, coords[i])
			expected.MinY = min(expected.MinY, coords[i+1])
			expected.MaxY = max(expected.MaxY, coords[i+1])
		}
		actual := region.BoundingBox()
		assert.Equal(t, expected, actual)
		assert.True(t, actual.MinX <= actual.MaxX)
		assert.True(t, actual.MinY <= actual.MaxY)
	}
}

func TestPoint_Distance(t *testing.T) {
	assert.Equal(t, 500.0, demmosaic.Point{X: 0, Y: 0}.Distance(demmosaic.Point{X: 300, Y: 400}))
}
