package demmosaic_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-demmosaic"
)

type recordedCommand struct {
	name string
	args []string
}

func TestGDALEngine(t *testing.T) {
	var commands []recordedCommand
	engine := demmosaic.NewGDALEngine(
		demmosaic.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
			commands = append(commands, recordedCommand{name: name, args: args})
			return nil, nil
		}),
	)

	assert.NoError(t, engine.Merge(t.Context(), []string{"a.tif", "b.tif"}, "merged.tif"))
	assert.NoError(t, engine.Crop(t.Context(), "merged.tif", "cropped.tif", demmosaic.ProjectedBoundingBox{
		BoundingBox: demmosaic.BoundingBox{
			MinX: 323049.5,
			MinY: 3241279.25,
			MaxX: 323197,
			MaxY: 3241446,
		},
		CRS: "EPSG:32615",
	}))
	assert.NoError(t, engine.Reproject(t.Context(), "cropped.tif", "reprojected.tif", "EPSG:4326"))

	assert.Equal(t, []recordedCommand{
		{
			name: "gdal_merge.py",
			args: []string{"-co", "CHECK_DISK_FREE_SPACE=FALSE", "-o", "merged.tif", "a.tif", "b.tif"},
		},
		{
			name: "gdalwarp",
			args: []string{"-te", "323049.5", "3241279.25", "323197", "3241446", "-te_srs", "EPSG:32615", "merged.tif", "cropped.tif"},
		},
		{
			name: "gdalwarp",
			args: []string{"-t_srs", "EPSG:4326", "cropped.tif", "reprojected.tif"},
		},
	}, commands)
}

func TestGDALEngine_Commands(t *testing.T) {
	var names []string
	engine := demmosaic.NewGDALEngine(
		demmosaic.WithMergeCommand("/opt/gdal/bin/gdal_merge"),
		demmosaic.WithWarpCommand("/opt/gdal/bin/gdalwarp"),
		demmosaic.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
			names = append(names, name)
			return nil, nil
		}),
	)
	assert.NoError(t, engine.Merge(t.Context(), []string{"a.tif"}, "merged.tif"))
	assert.NoError(t, engine.Crop(t.Context(), "merged.tif", "cropped.tif", demmosaic.ProjectedBoundingBox{}))
	assert.Equal(t, []string{"/opt/gdal/bin/gdal_merge", "/opt/gdal/bin/gdalwarp"}, names)
}

func TestGDALEngine_ToolError(t *testing.T) {
	errExit := errors.New("exit status 1")
	engine := demmosaic.NewGDALEngine(
		demmosaic.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("ERROR 4: merged.tif: No such file or directory\n"), errExit
		}),
	)

	err := engine.Crop(t.Context(), "merged.tif", "cropped.tif", demmosaic.ProjectedBoundingBox{})
	assert.Error(t, err)
	var toolError *demmosaic.ToolError
	assert.True(t, errors.As(err, &toolError))
	assert.Equal(t, "gdalwarp", toolError.Command[0])
	assert.Equal(t, "ERROR 4: merged.tif: No such file or directory\n", toolError.Output)
	assert.True(t, errors.Is(err, errExit))
	assert.True(t, strings.Contains(err.Error(), "No such file or directory"))
}

func TestExecCommandRunner(t *testing.T) {
	_, err := demmosaic.ExecCommandRunner(t.Context(), "demmosaic-command-that-does-not-exist")
	assert.Error(t, err)
}
