package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/twpayne/go-demmosaic"
)

const usage = "usage: demmosaic [flags] longitude1 latitude1 [longitude2 latitude2 ...]"

func run() error {
	_ = godotenv.Load() // .env is optional

	flags := newFlagSet()
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(escapeNegativeNumbers(os.Args[1:])); err != nil {
		return fmt.Errorf("%w: %w", demmosaic.ErrInvalidInput, err)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	args := make([]string, flags.NArg())
	for i, arg := range flags.Args() {
		args[i] = strings.TrimSpace(arg)
	}
	region, err := demmosaic.ParseRegion(args)
	if err != nil {
		flags.Usage()
		return err
	}
	logger.Info("region", "bbox", region.BoundingBox().String(), "points", len(region.Points()))

	catalogOptions := []demmosaic.TNMCatalogOption{}
	if cfg.CatalogURL != "" {
		catalogOptions = append(catalogOptions, demmosaic.WithCatalogURL(cfg.CatalogURL))
	}
	if cfg.Dataset != "" {
		catalogOptions = append(catalogOptions, demmosaic.WithCatalogDataset(cfg.Dataset))
	}
	catalog, err := demmosaic.NewTNMCatalog(catalogOptions...)
	if err != nil {
		return err
	}

	projector, err := demmosaic.NewProjProjector()
	if err != nil {
		return err
	}
	defer projector.Close()

	pipeline, err := demmosaic.NewPipeline(
		demmosaic.PipelineConfig{
			DownloadDir:     cfg.DownloadDir,
			WorkDir:         cfg.WorkDir,
			IntermediateDir: cfg.IntermediateDir,
			OutputDir:       cfg.OutputDir,
			DestinationDir:  cfg.DestinationDir,
			CropCRS:         cfg.CropCRS,
			TargetCRS:       cfg.TargetCRS,
		},
		demmosaic.WithCatalog(catalog),
		demmosaic.WithDownloader(demmosaic.NewHTTPDownloader(
			demmosaic.WithDownloadConcurrency(cfg.Concurrency),
			demmosaic.WithDownloadHTTPClient(http.DefaultClient),
			demmosaic.WithDownloadLogger(logger),
		)),
		demmosaic.WithEngine(demmosaic.NewGDALEngine(
			demmosaic.WithMergeCommand(cfg.MergeCommand),
			demmosaic.WithWarpCommand(cfg.WarpCommand),
		)),
		demmosaic.WithProjector(projector),
		demmosaic.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	result, runErr := pipeline.Run(ctx, region)
	if result != nil {
		logger.Info("summary",
			"output", result.Output,
			"relocated", result.Relocated,
			"survivors", len(result.Survivors),
			"discarded", len(result.Discarded),
			"failed_downloads", len(result.FailedDownloads),
			"unreadable_tiles", len(result.MetadataErrs),
		)
	}

	if cfg.MetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsTextfile, prometheus.DefaultGatherer); err != nil {
			logger.Warn("writing metrics", "path", cfg.MetricsTextfile, "err", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	fmt.Println(result.Output)
	return nil
}

// escapeNegativeNumbers prefixes arguments that are negative numbers with a
// space so that they are parsed as positional arguments rather than flags.
func escapeNegativeNumbers(args []string) []string {
	escapedArgs := make([]string, len(args))
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "--") {
			if _, err := strconv.ParseFloat(arg, 64); err == nil {
				arg = " " + arg
			}
		}
		escapedArgs[i] = arg
	}
	return escapedArgs
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, demmosaic.ErrInvalidInput) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
