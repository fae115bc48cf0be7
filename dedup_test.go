package demmosaic_test

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-demmosaic"
)

func newTestRecord(path string, x, y float64, crs string) *demmosaic.TileRecord {
	return &demmosaic.TileRecord{
		SourceURL:   "https://example.com/" + path,
		Path:        path,
		Centroid:    demmosaic.Point{X: x, Y: y},
		HasCentroid: true,
		CRS:         crs,
	}
}

func paths(records []*demmosaic.TileRecord) []string {
	result := make([]string, len(records))
	for i, record := range records {
		result[i] = record.Path
	}
	return result
}

func TestDeduplicator_Deduplicate(t *testing.T) {
	for _, tc := range []struct {
		name              string
		records           []*demmosaic.TileRecord
		expectedSurvivors []string
		expectedDiscarded map[string]demmosaic.DiscardReason
	}{
		{
			name: "disjoint",
			records: []*demmosaic.TileRecord{
				newTestRecord("a.tif", 0, 0, ""),
				newTestRecord("b.tif", 1000, 0, ""),
				newTestRecord("c.tif", 0, 5000, "EPSG:26915"),
			},
			expectedSurvivors: []string{"a.tif", "b.tif", "c.tif"},
			expectedDiscarded: map[string]demmosaic.DiscardReason{},
		},
		{
			name: "unknown_then_known",
			records: []*demmosaic.TileRecord{
				newTestRecord("unknown.tif", 0, 0, ""),
				newTestRecord("known.tif", 500, 0, "EPSG:26915"),
			},
			expectedSurvivors: []string{"known.tif"},
			expectedDiscarded: map[string]demmosaic.DiscardReason{
				"unknown.tif": demmosaic.DiscardedReplaced,
			},
		},
		{
			name: "known_then_unknown",
			records: []*demmosaic.TileRecord{
				newTestRecord("known.tif", 0, 0, "EPSG:26915"),
				newTestRecord("unknown.tif", 500, 0, ""),
			},
			expectedSurvivors: []string{"known.tif"},
			expectedDiscarded: map[string]demmosaic.DiscardReason{
				"unknown.tif": demmosaic.DiscardedDuplicate,
			},
		},
		{
			name: "known_then_known",
			records: []*demmosaic.TileRecord{
				newTestRecord("first.tif", 0, 0, "EPSG:26915"),
				newTestRecord("second.tif", 10, 10, "EPSG:26915"),
			},
			expectedSurvivors: []string{"first.tif"},
			expectedDiscarded: map[string]demmosaic.DiscardReason{
				"second.tif": demmosaic.DiscardedDuplicate,
			},
		},
		{
			name: "unknown_then_unknown_later_wins",
			records: []*demmosaic.TileRecord{
				newTestRecord("first.tif", 0, 0, ""),
				newTestRecord("second.tif", 10, 10, ""),
			},
			expectedSurvivors: []string{"second.tif"},
			expectedDiscarded: map[string]demmosaic.DiscardReason{
				"first.tif": demmosaic.DiscardedReplaced,
			},
		},
		{
			name: "first_match_wins",
			records: []*demmosaic.TileRecord{
				newTestRecord("a.tif", 0, 0, "EPSG:26915"),
				newTestRecord("b.tif", 1500, 0, ""),
				newTestRecord("c.tif", 750, 0, ""),
			},
			expectedSurvivors: []string{"a.tif", "b.tif"},
			expectedDiscarded: map[string]demmosaic.DiscardReason{
				"c.tif": demmosaic.DiscardedDuplicate,
			},
		},
		{
			name: "exactly_at_threshold_is_distinct",
			records: []*demmosaic.TileRecord{
				newTestRecord("a.tif", 0, 0, ""),
				newTestRecord("b.tif", 600, 800, ""),
			},
			expectedSurvivors: []string{"a.tif", "b.tif"},
			expectedDiscarded: map[string]demmosaic.DiscardReason{},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			survivors, err := demmosaic.NewDeduplicator().Deduplicate(tc.records)
			assert.NoError(t, err)
			assert.Equal(t, tc.expectedSurvivors, paths(survivors))
			actualDiscarded := make(map[string]demmosaic.DiscardReason)
			for _, record := range tc.records {
				if record.Discarded {
					actualDiscarded[record.Path] = record.DiscardReason
				}
			}
			assert.Equal(t, tc.expectedDiscarded, actualDiscarded)
		})
	}
}

func TestDeduplicator_KnownCRSSurvivesInEitherOrder(t *testing.T) {
	for _, reversed := range []bool{false, true} {
		t.Run(strconv.FormatBool(reversed), func(t *testing.T) {
			known := newTestRecord("known.tif", 100, 100, "EPSG:26915")
			unknown := newTestRecord("unknown.tif", 400, 500, "")
			records := []*demmosaic.TileRecord{known, unknown}
			if reversed {
				records = []*demmosaic.TileRecord{unknown, known}
			}
			survivors, err := demmosaic.NewDeduplicator().Deduplicate(records)
			assert.NoError(t, err)
			assert.Equal(t, []*demmosaic.TileRecord{known}, survivors)
			assert.True(t, survivors[0].Trusted())
			assert.True(t, unknown.Discarded)
		})
	}
}

func TestDeduplicator_SpatialCoherenceError(t *testing.T) {
	// b starts a cluster because it is 1200 from a. c is within range of a
	// (and of b) and replaces a because a's CRS is unknown, leaving two
	// survivors only 400 apart.
	a := newTestRecord("a.tif", 0, 0, "")
	b := newTestRecord("b.tif", 1200, 0, "")
	c := newTestRecord("c.tif", 800, 0, "EPSG:26915")

	survivors, err := demmosaic.NewDeduplicator().Deduplicate([]*demmosaic.TileRecord{a, b, c})
	assert.Zero(t, survivors)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, demmosaic.ErrSpatialCoherence))
	var spatialCoherenceError *demmosaic.SpatialCoherenceError
	assert.True(t, errors.As(err, &spatialCoherenceError))
	assert.Equal(t, c, spatialCoherenceError.A)
	assert.Equal(t, b, spatialCoherenceError.B)
	assert.Equal(t, 400.0, spatialCoherenceError.Distance)
	assert.Equal(t, 1000.0, spatialCoherenceError.Threshold)
}

func TestDeduplicator_MissingCentroid(t *testing.T) {
	_, err := demmosaic.NewDeduplicator().Deduplicate([]*demmosaic.TileRecord{
		{Path: "a.tif"},
	})
	assert.True(t, errors.Is(err, demmosaic.ErrInvalidInput))
}

func TestDeduplicator_WithProximityThreshold(t *testing.T) {
	deduplicator := demmosaic.NewDeduplicator(demmosaic.WithProximityThreshold(10))
	assert.Equal(t, 10.0, deduplicator.Threshold())
	survivors, err := deduplicator.Deduplicate([]*demmosaic.TileRecord{
		newTestRecord("a.tif", 0, 0, ""),
		newTestRecord("b.tif", 500, 0, ""),
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(survivors))
}

func TestDeduplicator_SurvivorsAreCoherent(t *testing.T) {
	r := rand.New(rand.NewPCG(0, 0))
	deduplicator := demmosaic.NewDeduplicator()
	for i := range 1024 {
		records := make([]*demmosaic.TileRecord, r.IntN(16))
		for j := range records {
			crs := ""
			if r.IntN(2) == 0 {
				crs = "EPSG:26915"
			}
			records[j] = newTestRecord(strconv.Itoa(j)+".tif", float64(r.IntN(5000)), float64(r.IntN(5000)), crs)
		}
		survivors, err := deduplicator.Deduplicate(records)
		if err != nil {
			assert.True(t, errors.Is(err, demmosaic.ErrSpatialCoherence), "iteration %d", i)
			continue
		}
		for j, a := range survivors {
			assert.False(t, a.Discarded)
			for _, b := range survivors[j+1:] {
				assert.True(t, a.Centroid.Distance(b.Centroid) >= deduplicator.Threshold())
			}
		}
	}
}
