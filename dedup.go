package demmosaic

import (
	"fmt"
)

// DefaultProximityThreshold is the distance, in projected coordinate units,
// below which two tile centroids are considered duplicates.
const DefaultProximityThreshold = 1000

// A DiscardReason records why a tile was discarded.
type DiscardReason int

const (
	NotDiscarded DiscardReason = iota
	// DiscardedDuplicate tiles overlapped a representative with a known CRS.
	DiscardedDuplicate
	// DiscardedReplaced tiles were representatives with an unknown CRS that
	// were replaced by a later overlapping tile.
	DiscardedReplaced
)

func (r DiscardReason) String() string {
	switch r {
	case NotDiscarded:
		return "none"
	case DiscardedDuplicate:
		return "duplicate"
	case DiscardedReplaced:
		return "replaced"
	default:
		return fmt.Sprintf("DiscardReason(%d)", int(r))
	}
}

// A TileRecord is a downloaded tile. It is owned by a single pipeline run.
type TileRecord struct {
	SourceURL     string
	Path          string
	Centroid      Point
	HasCentroid   bool
	CRS           string // Empty if unknown.
	Discarded     bool
	DiscardReason DiscardReason
}

// Trusted returns whether r has a known coordinate reference system.
func (r *TileRecord) Trusted() bool {
	return r.CRS != ""
}

func (r *TileRecord) discard(reason DiscardReason) {
	r.Discarded = true
	r.DiscardReason = reason
}

// A Deduplicator clusters tiles by centroid proximity and keeps one tile per
// cluster.
type Deduplicator struct {
	threshold float64
}

// A DeduplicatorOption sets an option on a Deduplicator.
type DeduplicatorOption func(*Deduplicator)

// NewDeduplicator returns a new Deduplicator with the given options.
func NewDeduplicator(options ...DeduplicatorOption) *Deduplicator {
	d := &Deduplicator{
		threshold: DefaultProximityThreshold,
	}
	for _, option := range options {
		option(d)
	}
	return d
}

func WithProximityThreshold(threshold float64) DeduplicatorOption {
	return func(d *Deduplicator) {
		d.threshold = threshold
	}
}

// Threshold returns d's proximity threshold.
func (d *Deduplicator) Threshold() float64 {
	return d.threshold
}

// Deduplicate clusters records in order and returns the surviving
// representatives. Discarded records are marked in place.
//
// Each record is compared against the current representatives in order and
// joins the first one whose centroid is closer than the threshold. If that
// representative has a known CRS then the record is discarded. Otherwise the
// record replaces the representative, even if the record's CRS is also
// unknown. A record that joins no cluster starts a new one.
//
// The single pass is greedy, so the survivors are checked pairwise afterwards
// and a *SpatialCoherenceError is returned if any two are too close.
func (d *Deduplicator) Deduplicate(records []*TileRecord) ([]*TileRecord, error) {
	var representatives []*TileRecord
RECORD:
	for _, record := range records {
		if !record.HasCentroid {
			return nil, fmt.Errorf("%w: %s has no centroid", ErrInvalidInput, record.Path)
		}
		for i, representative := range representatives {
			if record.Centroid.Distance(representative.Centroid) >= d.threshold {
				continue
			}
			if representative.Trusted() {
				record.discard(DiscardedDuplicate)
			} else {
				representative.discard(DiscardedReplaced)
				representatives[i] = record
			}
			continue RECORD
		}
		representatives = append(representatives, record)
	}

	if err := d.CheckCoherence(representatives); err != nil {
		return nil, err
	}
	return representatives, nil
}

// CheckCoherence returns a *SpatialCoherenceError for the first pair of
// records whose centroids are closer than d's threshold.
func (d *Deduplicator) CheckCoherence(records []*TileRecord) error {
	for i, a := range records {
		for _, b := range records[i+1:] {
			if distance := a.Centroid.Distance(b.Centroid); distance < d.threshold {
				return &SpatialCoherenceError{
					A:         a,
					B:         b,
					Distance:  distance,
					Threshold: d.threshold,
				}
			}
		}
	}
	return nil
}
