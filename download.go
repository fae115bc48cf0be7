package demmosaic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultDownloadConcurrency is the default number of concurrent downloads.
const DefaultDownloadConcurrency = 4

var errIncompleteStream = errors.New("incomplete stream")

// A DownloadResult is the outcome of downloading a single URL. Exactly one of
// Path and Err is set.
type DownloadResult struct {
	URL  string
	Path string
	Err  error
}

// A TileDownloader downloads tiles into a directory.
type TileDownloader interface {
	Download(ctx context.Context, urls []string, dir string) []DownloadResult
}

// An HTTPDownloader downloads tiles concurrently over HTTP.
type HTTPDownloader struct {
	httpClient  *http.Client
	concurrency int
	logger      *slog.Logger
}

// An HTTPDownloaderOption sets an option on an HTTPDownloader.
type HTTPDownloaderOption func(*HTTPDownloader)

// NewHTTPDownloader returns a new HTTPDownloader with the given options.
func NewHTTPDownloader(options ...HTTPDownloaderOption) *HTTPDownloader {
	d := &HTTPDownloader{
		httpClient:  http.DefaultClient,
		concurrency: DefaultDownloadConcurrency,
		logger:      slog.Default(),
	}
	for _, option := range options {
		option(d)
	}
	if d.concurrency <= 0 {
		d.concurrency = DefaultDownloadConcurrency
	}
	return d
}

func WithDownloadConcurrency(concurrency int) HTTPDownloaderOption {
	return func(d *HTTPDownloader) {
		d.concurrency = concurrency
	}
}

func WithDownloadHTTPClient(httpClient *http.Client) HTTPDownloaderOption {
	return func(d *HTTPDownloader) {
		d.httpClient = httpClient
	}
}

func WithDownloadLogger(logger *slog.Logger) HTTPDownloaderOption {
	return func(d *HTTPDownloader) {
		d.logger = logger
	}
}

// Download downloads every URL in urls into dir and returns one result per
// URL, in the same order. It returns only once every download has either
// completed or failed. Each file is named by TileFilenames and only appears
// under that name once its bytes have been flushed to disk.
func (d *HTTPDownloader) Download(ctx context.Context, urls []string, dir string) []DownloadResult {
	results := make([]DownloadResult, len(urls))
	basenames, errs := TileFilenames(urls)
	sem := semaphore.NewWeighted(int64(d.concurrency))
	var wg sync.WaitGroup
	for i, rawURL := range urls {
		results[i].URL = rawURL
		if errs[i] != nil {
			results[i].Err = fmt.Errorf("%w: %w", ErrDownload, errs[i])
			tileDownloadFailures.Inc()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i].Err = fmt.Errorf("%w: %s: %w", ErrDownload, rawURL, err)
				tileDownloadFailures.Inc()
				return
			}
			defer sem.Release(1)

			filename := filepath.Join(dir, basenames[i])
			n, err := d.download(ctx, rawURL, filename)
			if err != nil {
				results[i].Err = fmt.Errorf("%w: %s: %w", ErrDownload, rawURL, err)
				tileDownloadFailures.Inc()
				d.logger.Warn("download failed", "url", rawURL, "err", err)
				return
			}
			results[i].Path = filename
			tilesDownloaded.Inc()
			tileDownloadBytes.Add(float64(n))
			d.logger.Info("downloaded", "url", rawURL, "path", filename, "bytes", n)
		}()
	}
	wg.Wait()
	return results
}

// download downloads rawURL to filename, returning the number of bytes
// written.
func (d *HTTPDownloader) download(ctx context.Context, rawURL, filename string) (n int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%s", resp.Status)
	}

	partFile, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".*.part")
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = partFile.Close()
			_ = os.Remove(partFile.Name())
		}
	}()

	n, err = io.Copy(partFile, resp.Body)
	if err != nil {
		return n, err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, fmt.Errorf("%w: got %d bytes, expected %d", errIncompleteStream, n, resp.ContentLength)
	}
	if err = partFile.Sync(); err != nil {
		return n, err
	}
	if err = partFile.Close(); err != nil {
		return n, err
	}
	if err = os.Rename(partFile.Name(), filename); err != nil {
		return n, err
	}
	return n, nil
}

// TileFilenames returns a distinct local filename for each of urls. Each
// filename is the basename of its URL, with _1, _2, ... inserted before the
// extension when an earlier URL in urls has the same basename.
func TileFilenames(urls []string) ([]string, []error) {
	filenames := make([]string, len(urls))
	errs := make([]error, len(urls))
	taken := make(map[string]struct{}, len(urls))
	for i, rawURL := range urls {
		basename, err := TileFilename(rawURL)
		if err != nil {
			errs[i] = err
			continue
		}
		filenames[i], _ = uniqueName(basename, func(candidate string) (bool, error) {
			_, ok := taken[candidate]
			return ok, nil
		})
		taken[filenames[i]] = struct{}{}
	}
	return filenames, errs
}

// TileFilename returns the local filename for rawURL, the basename of its
// path.
func TileFilename(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	switch basename := path.Base(u.Path); basename {
	case ".", "/", "..":
		return "", fmt.Errorf("%s: no filename in URL", rawURL)
	default:
		return basename, nil
	}
}
