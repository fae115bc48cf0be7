package demmosaic

import (
	"context"
	"os/exec"
	"slices"
)

// A RasterEngine performs raster operations. Implementations report failures
// with an error that includes the engine's diagnostic output.
type RasterEngine interface {
	Merge(ctx context.Context, inputs []string, output string) error
	Crop(ctx context.Context, input, output string, extent ProjectedBoundingBox) error
	Reproject(ctx context.Context, input, output, targetCRS string) error
}

// A CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecCommandRunner runs commands with os/exec.
func ExecCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// A GDALEngine is a RasterEngine that runs the GDAL command line utilities.
type GDALEngine struct {
	mergeCommand string
	warpCommand  string
	runner       CommandRunner
}

// A GDALEngineOption sets an option on a GDALEngine.
type GDALEngineOption func(*GDALEngine)

// NewGDALEngine returns a new GDALEngine with the given options.
func NewGDALEngine(options ...GDALEngineOption) *GDALEngine {
	e := &GDALEngine{
		mergeCommand: "gdal_merge.py",
		warpCommand:  "gdalwarp",
		runner:       ExecCommandRunner,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

func WithMergeCommand(mergeCommand string) GDALEngineOption {
	return func(e *GDALEngine) {
		e.mergeCommand = mergeCommand
	}
}

func WithWarpCommand(warpCommand string) GDALEngineOption {
	return func(e *GDALEngine) {
		e.warpCommand = warpCommand
	}
}

func WithCommandRunner(runner CommandRunner) GDALEngineOption {
	return func(e *GDALEngine) {
		e.runner = runner
	}
}

// Merge merges inputs into output. Free disk space checks are disabled.
func (e *GDALEngine) Merge(ctx context.Context, inputs []string, output string) error {
	args := slices.Concat(
		[]string{"-co", "CHECK_DISK_FREE_SPACE=FALSE", "-o", output},
		inputs,
	)
	return e.run(ctx, e.mergeCommand, args...)
}

// Crop warps input to output, limited to extent.
func (e *GDALEngine) Crop(ctx context.Context, input, output string, extent ProjectedBoundingBox) error {
	args := []string{
		"-te",
		formatFloat(extent.MinX),
		formatFloat(extent.MinY),
		formatFloat(extent.MaxX),
		formatFloat(extent.MaxY),
	}
	if extent.CRS != "" {
		args = append(args, "-te_srs", extent.CRS)
	}
	args = append(args, input, output)
	return e.run(ctx, e.warpCommand, args...)
}

// Reproject warps input to output in targetCRS.
func (e *GDALEngine) Reproject(ctx context.Context, input, output, targetCRS string) error {
	return e.run(ctx, e.warpCommand, "-t_srs", targetCRS, input, output)
}

func (e *GDALEngine) run(ctx context.Context, name string, args ...string) error {
	output, err := e.runner(ctx, name, args...)
	if err != nil {
		return &ToolError{
			Command: append([]string{name}, args...),
			Output:  string(output),
			Err:     err,
		}
	}
	return nil
}
