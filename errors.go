package demmosaic

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrCatalogQuery     = errors.New("catalog query failed")
	ErrDownload         = errors.New("download failed")
	ErrMetadataRead     = errors.New("metadata read failed")
	ErrNoTiles          = errors.New("no tiles")
	ErrSpatialCoherence = errors.New("spatially incoherent tile set")
	ErrMerge            = errors.New("merge failed")
	ErrCrop             = errors.New("crop failed")
	ErrReproject        = errors.New("reproject failed")
	ErrRelocation       = errors.New("relocation failed")
	ErrCleanup          = errors.New("cleanup failed")
)

// A SpatialCoherenceError is returned when two surviving tiles are closer
// than the proximity threshold.
type SpatialCoherenceError struct {
	A         *TileRecord
	B         *TileRecord
	Distance  float64
	Threshold float64
}

func (e *SpatialCoherenceError) Error() string {
	return fmt.Sprintf("%s: %s and %s are %.1f apart (threshold %.1f)",
		ErrSpatialCoherence, e.A.Path, e.B.Path, e.Distance, e.Threshold)
}

func (e *SpatialCoherenceError) Unwrap() error {
	return ErrSpatialCoherence
}

// A ToolError is returned when an external raster tool fails. Output contains
// the tool's combined output verbatim.
type ToolError struct {
	Command []string
	Output  string
	Err     error
}

func (e *ToolError) Error() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(e.Command, " "))
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	if output := strings.TrimSpace(e.Output); output != "" {
		sb.WriteString("\n")
		sb.WriteString(output)
	}
	return sb.String()
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// A StageError records the stage in which a run failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage.String() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
