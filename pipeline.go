package demmosaic

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// A Stage is a stage of a pipeline run.
type Stage int

const (
	StageCollecting Stage = iota
	StageDeduplicating
	StageMerging
	StageCropping
	StageReprojecting
	StageRelocating
	StageCleaningUp
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageCollecting:
		return "collecting"
	case StageDeduplicating:
		return "deduplicating"
	case StageMerging:
		return "merging"
	case StageCropping:
		return "cropping"
	case StageReprojecting:
		return "reprojecting"
	case StageRelocating:
		return "relocating"
	case StageCleaningUp:
		return "cleaning_up"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// PipelineConfig is the filesystem layout and output settings of a Pipeline.
type PipelineConfig struct {
	// DownloadDir receives downloaded tiles. Its contents are deleted at the
	// end of every run.
	DownloadDir string
	// WorkDir receives the merged mosaic. It is not cleaned so that the
	// output of a failed run can be inspected.
	WorkDir string
	// IntermediateDir receives the cropped raster when reprojecting. Its
	// contents are deleted at the end of every run that reprojects.
	IntermediateDir string
	// OutputDir receives the final raster.
	OutputDir string
	// DestinationDir, if set, is where the final raster is moved to. It must
	// already exist.
	DestinationDir string

	// CropCRS is the CRS of the crop extent. If empty, the WGS84 UTM zone
	// containing the center of the region is used.
	CropCRS string
	// TargetCRS, if set, is the CRS that the cropped raster is reprojected
	// to.
	TargetCRS string

	MergedFilename      string
	CroppedFilename     string
	ReprojectedFilename string
}

// Validate returns an error describing every problem with c.
func (c *PipelineConfig) Validate() error {
	var errs []string
	for _, dir := range []struct {
		name  string
		value string
	}{
		{"download dir", c.DownloadDir},
		{"work dir", c.WorkDir},
		{"output dir", c.OutputDir},
	} {
		if dir.value == "" {
			errs = append(errs, dir.name+" is required")
		}
	}
	if c.TargetCRS != "" && c.IntermediateDir == "" {
		errs = append(errs, "intermediate dir is required when reprojecting")
	}

	// Directories that are cleaned must not hold anything that is kept.
	cleaned := []string{c.DownloadDir}
	if c.TargetCRS != "" {
		cleaned = append(cleaned, c.IntermediateDir)
	}
	for _, cleanedDir := range cleaned {
		if cleanedDir == "" {
			continue
		}
		for _, keptDir := range []string{c.WorkDir, c.OutputDir, c.DestinationDir} {
			if keptDir != "" && filepath.Clean(keptDir) == filepath.Clean(cleanedDir) {
				errs = append(errs, fmt.Sprintf("%s is cleaned after every run and cannot also hold outputs", cleanedDir))
			}
		}
	}
	if c.TargetCRS != "" && c.IntermediateDir != "" && filepath.Clean(c.IntermediateDir) == filepath.Clean(c.DownloadDir) {
		errs = append(errs, "intermediate dir must differ from download dir")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(errs, "; "))
	}
	return nil
}

// A RunResult summarizes a pipeline run.
type RunResult struct {
	// Output is the filename of the final raster.
	Output string
	// Relocated is true if Output was moved to the destination directory.
	Relocated bool
	// Stage is StageDone on success or StageFailed on failure.
	Stage           Stage
	Survivors       []*TileRecord
	Discarded       []*TileRecord
	FailedDownloads []DownloadResult
	// MetadataErrs are the errors of tiles excluded because their metadata
	// could not be read.
	MetadataErrs  []error
	RelocationErr error
	CleanupErr    error
}

// A Pipeline acquires elevation tiles covering a region and reduces them to a
// single cropped raster. A Pipeline owns its directories for the duration of
// a run, so concurrent runs must use distinct directories.
type Pipeline struct {
	config       PipelineConfig
	catalog      Catalog
	downloader   TileDownloader
	engine       RasterEngine
	projector    Projector
	deduplicator *Deduplicator
	logger       *slog.Logger
}

// A PipelineOption sets an option on a Pipeline.
type PipelineOption func(*Pipeline)

// NewPipeline returns a new Pipeline with the given config and options.
// Collaborators that are not set with options default to the TNM catalog, an
// HTTP downloader, the GDAL command line utilities, and PROJ.
func NewPipeline(config PipelineConfig, options ...PipelineOption) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MergedFilename == "" {
		config.MergedFilename = "merged.tif"
	}
	if config.CroppedFilename == "" {
		config.CroppedFilename = "cropped.tif"
	}
	if config.ReprojectedFilename == "" {
		config.ReprojectedFilename = "reprojected.tif"
	}

	p := &Pipeline{
		config: config,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(p)
	}

	if p.catalog == nil {
		catalog, err := NewTNMCatalog()
		if err != nil {
			return nil, err
		}
		p.catalog = catalog
	}
	if p.downloader == nil {
		p.downloader = NewHTTPDownloader(WithDownloadLogger(p.logger))
	}
	if p.engine == nil {
		p.engine = NewGDALEngine()
	}
	if p.projector == nil {
		projector, err := NewProjProjector()
		if err != nil {
			return nil, err
		}
		p.projector = projector
	}
	if p.deduplicator == nil {
		p.deduplicator = NewDeduplicator()
	}
	return p, nil
}

func WithCatalog(catalog Catalog) PipelineOption {
	return func(p *Pipeline) {
		p.catalog = catalog
	}
}

func WithDownloader(downloader TileDownloader) PipelineOption {
	return func(p *Pipeline) {
		p.downloader = downloader
	}
}

func WithEngine(engine RasterEngine) PipelineOption {
	return func(p *Pipeline) {
		p.engine = engine
	}
}

func WithProjector(projector Projector) PipelineOption {
	return func(p *Pipeline) {
		p.projector = projector
	}
}

func WithDeduplicator(deduplicator *Deduplicator) PipelineOption {
	return func(p *Pipeline) {
		p.deduplicator = deduplicator
	}
}

func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// Run queries the catalog for the tiles covering region and runs the
// pipeline on them.
func (p *Pipeline) Run(ctx context.Context, region *Region) (*RunResult, error) {
	return p.run(ctx, region, nil)
}

// RunURLs runs the pipeline on the tiles at urls, skipping the catalog query.
func (p *Pipeline) RunURLs(ctx context.Context, region *Region, urls []string) (*RunResult, error) {
	return p.run(ctx, region, urls)
}

func (p *Pipeline) run(ctx context.Context, region *Region, urls []string) (result *RunResult, err error) {
	result = &RunResult{}

	defer func() {
		p.cleanUp(result)
		if err != nil {
			result.Stage = StageFailed
			runsTotal.WithLabelValues("failed").Inc()
			p.logger.Error("run failed", "err", err)
		} else {
			result.Stage = StageDone
			runsTotal.WithLabelValues("succeeded").Inc()
			p.logger.Info("run done", "output", result.Output, "relocated", result.Relocated)
		}
	}()

	for _, dir := range []string{p.config.DownloadDir, p.config.WorkDir, p.config.OutputDir, p.config.IntermediateDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return result, err
		}
	}

	var records []*TileRecord
	if err := p.stage(StageCollecting, func() error {
		var err error
		records, err = p.collect(ctx, region, urls, result)
		return err
	}); err != nil {
		return result, err
	}

	if err := p.stage(StageDeduplicating, func() error {
		var err error
		result.Survivors, err = p.deduplicate(records, result)
		return err
	}); err != nil {
		return result, err
	}

	var merged string
	if err := p.stage(StageMerging, func() error {
		var err error
		merged, err = p.merge(ctx, result.Survivors)
		return err
	}); err != nil {
		return result, err
	}

	var cropped string
	if err := p.stage(StageCropping, func() error {
		var err error
		cropped, err = p.crop(ctx, region, merged)
		return err
	}); err != nil {
		return result, err
	}
	result.Output = cropped

	if p.config.TargetCRS != "" {
		if err := p.stage(StageReprojecting, func() error {
			var err error
			result.Output, err = p.reproject(ctx, cropped)
			return err
		}); err != nil {
			return result, err
		}
	}

	if p.config.DestinationDir != "" {
		_ = p.stage(StageRelocating, func() error {
			switch relocated, err := Relocate(result.Output, p.config.DestinationDir); {
			case err != nil:
				result.RelocationErr = fmt.Errorf("%w: %w", ErrRelocation, err)
				p.logger.Warn("relocation failed, leaving output in place",
					"output", result.Output,
					"destination", p.config.DestinationDir,
					"err", err,
				)
			default:
				result.Output = relocated
				result.Relocated = true
			}
			return nil
		})
	}

	return result, nil
}

// stage runs f as stage, recording its duration.
func (p *Pipeline) stage(stage Stage, f func() error) error {
	p.logger.Info("stage", "stage", stage.String())
	start := time.Now()
	err := f()
	stageDuration.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// collect downloads the tiles at urls, querying the catalog first if urls is
// nil, and returns a record for each tile downloaded.
func (p *Pipeline) collect(ctx context.Context, region *Region, urls []string, result *RunResult) ([]*TileRecord, error) {
	if urls == nil {
		var err error
		urls, err = p.catalog.Query(ctx, region.PolygonQuery())
		if err != nil {
			return nil, err
		}
		p.logger.Info("catalog queried", "tiles", len(urls))
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: catalog returned no tiles", ErrNoTiles)
	}

	var records []*TileRecord
	for _, downloadResult := range p.downloader.Download(ctx, urls, p.config.DownloadDir) {
		if downloadResult.Err != nil {
			result.FailedDownloads = append(result.FailedDownloads, downloadResult)
			continue
		}
		records = append(records, &TileRecord{
			SourceURL: downloadResult.URL,
			Path:      downloadResult.Path,
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: all %d downloads failed", ErrNoTiles, len(urls))
	}
	return records, nil
}

// deduplicate reads the metadata of records, excluding tiles whose metadata
// cannot be read, and returns the surviving tiles.
func (p *Pipeline) deduplicate(records []*TileRecord, result *RunResult) ([]*TileRecord, error) {
	slices.SortStableFunc(records, func(a, b *TileRecord) int {
		return cmp.Compare(a.SourceURL, b.SourceURL)
	})

	readable := make([]*TileRecord, 0, len(records))
	for _, record := range records {
		metadata, err := ReadTileMetadata(os.DirFS(filepath.Dir(record.Path)), filepath.Base(record.Path))
		if err != nil {
			metadataReadFailures.Inc()
			result.MetadataErrs = append(result.MetadataErrs, err)
			p.logger.Warn("excluding tile", "path", record.Path, "err", err)
			continue
		}
		if metadata.GeoKeysErr != nil {
			p.logger.Debug("unreadable GeoKeys, treating CRS as unknown", "path", record.Path, "err", metadata.GeoKeysErr)
		}
		record.Centroid = metadata.Centroid()
		record.HasCentroid = true
		record.CRS = metadata.CRS
		readable = append(readable, record)
	}
	if len(readable) == 0 {
		return nil, fmt.Errorf("%w: no tile metadata could be read", ErrNoTiles)
	}

	survivors, err := p.deduplicator.Deduplicate(readable)
	kept := make(map[string]struct{})
	for _, record := range readable {
		if !record.Discarded {
			kept[record.Path] = struct{}{}
		}
	}
	for _, record := range readable {
		if !record.Discarded {
			continue
		}
		result.Discarded = append(result.Discarded, record)
		tilesDiscarded.WithLabelValues(record.DiscardReason.String()).Inc()
		p.logger.Info("discarding tile", "path", record.Path, "reason", record.DiscardReason.String())
		if record.DiscardReason == DiscardedReplaced {
			if _, ok := kept[record.Path]; ok {
				p.logger.Warn("replaced tile shares a file with a kept tile", "path", record.Path)
				continue
			}
			if err := os.Remove(record.Path); err != nil {
				p.logger.Warn("removing replaced tile", "path", record.Path, "err", err)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if len(survivors) == 0 {
		return nil, fmt.Errorf("%w: no tiles survived deduplication", ErrNoTiles)
	}
	return survivors, nil
}

// merge merges survivors and returns the merged filename. A single survivor
// is used as is.
func (p *Pipeline) merge(ctx context.Context, survivors []*TileRecord) (string, error) {
	switch len(survivors) {
	case 0:
		return "", fmt.Errorf("%w: no tiles", ErrMerge)
	case 1:
		p.logger.Info("single tile, skipping merge", "path", survivors[0].Path)
		return survivors[0].Path, nil
	}

	output, err := UniqueFilename(filepath.Join(p.config.WorkDir, p.config.MergedFilename))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMerge, err)
	}
	inputs := make([]string, len(survivors))
	for i, survivor := range survivors {
		inputs[i] = survivor.Path
	}
	if err := p.engine.Merge(ctx, inputs, output); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMerge, err)
	}
	p.logger.Info("merged", "tiles", len(inputs), "output", output)
	return output, nil
}

// crop crops input to region's projected bounding box and returns the
// cropped filename.
func (p *Pipeline) crop(ctx context.Context, region *Region, input string) (string, error) {
	boundingBox := region.BoundingBox()
	crs := p.config.CropCRS
	if crs == "" {
		crs = UTMZoneCRS(boundingBox.Center())
	}
	extent, err := ProjectBoundingBox(p.projector, crs, boundingBox)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrop, err)
	}

	dir := p.config.OutputDir
	if p.config.TargetCRS != "" {
		dir = p.config.IntermediateDir
	}
	output, err := UniqueFilename(filepath.Join(dir, p.config.CroppedFilename))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrop, err)
	}
	if err := p.engine.Crop(ctx, input, output, extent); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrop, err)
	}
	p.logger.Info("cropped", "extent", extent.BoundingBox.String(), "crs", extent.CRS, "output", output)
	return output, nil
}

// reproject reprojects input to the target CRS and returns the reprojected
// filename.
func (p *Pipeline) reproject(ctx context.Context, input string) (string, error) {
	output, err := UniqueFilename(filepath.Join(p.config.OutputDir, p.config.ReprojectedFilename))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrReproject, err)
	}
	if err := p.engine.Reproject(ctx, input, output, p.config.TargetCRS); err != nil {
		return "", fmt.Errorf("%w: %w", ErrReproject, err)
	}
	p.logger.Info("reprojected", "crs", p.config.TargetCRS, "output", output)
	return output, nil
}

// cleanUp deletes the contents of the download directory and, when
// reprojecting, the intermediate directory. Failures are logged and recorded
// in result but never returned.
func (p *Pipeline) cleanUp(result *RunResult) {
	_ = p.stage(StageCleaningUp, func() error {
		dirs := []string{p.config.DownloadDir}
		if p.config.TargetCRS != "" {
			dirs = append(dirs, p.config.IntermediateDir)
		}
		var errs []error
		for _, dir := range dirs {
			if err := removeDirContents(dir); err != nil {
				errs = append(errs, err)
				p.logger.Warn("cleanup failed", "dir", dir, "err", err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			result.CleanupErr = fmt.Errorf("%w: %w", ErrCleanup, err)
		}
		return nil
	})
}
