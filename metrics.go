package demmosaic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tilesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demmosaic_tiles_downloaded_total",
		Help: "The total number of tiles downloaded",
	})
	tileDownloadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demmosaic_tile_download_failures_total",
		Help: "The total number of failed tile downloads",
	})
	tileDownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demmosaic_tile_download_bytes_total",
		Help: "The total number of tile bytes downloaded",
	})
	metadataReadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demmosaic_metadata_read_failures_total",
		Help: "The total number of tiles whose metadata could not be read",
	})
	tilesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "demmosaic_tiles_discarded_total",
		Help: "The total number of tiles discarded as overlapping duplicates",
	}, []string{"reason"})
	catalogCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demmosaic_catalog_cache_hits_total",
		Help: "The total number of hits on the catalog query cache",
	})
	catalogCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demmosaic_catalog_cache_misses_total",
		Help: "The total number of misses on the catalog query cache",
	})
	projectorCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demmosaic_projector_cache_hits_total",
		Help: "The total number of hits on the projector transformation cache",
	})
	projectorCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demmosaic_projector_cache_misses_total",
		Help: "The total number of misses on the projector transformation cache",
	})
	projectorCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "demmosaic_projector_cache_evictions_total",
		Help: "The total number of evictions from the projector transformation cache",
	})
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "demmosaic_stage_duration_seconds",
		Help:    "The duration of each pipeline stage",
		Buckets: []float64{0.01, 0.1, 1, 5, 15, 60, 300, 900},
	}, []string{"stage"})
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "demmosaic_runs_total",
		Help: "The total number of pipeline runs by outcome",
	}, []string{"outcome"})
)
