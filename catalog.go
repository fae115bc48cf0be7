package demmosaic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/maypok86/otter/v2"
)

const (
	DefaultCatalogURL         = "https://tnmaccess.nationalmap.gov/api/v1/products"
	DefaultCatalogDataset     = "Digital Elevation Model (DEM) 1 meter"
	DefaultCatalogProdFormats = "GeoTIFF"
	DefaultCatalogPageSize    = 100
	DefaultCatalogCacheTTL    = 10 * time.Minute
)

// A Catalog returns the download URLs of the tiles intersecting a polygon.
type Catalog interface {
	Query(ctx context.Context, polygonQuery string) ([]string, error)
}

// A TNMCatalog queries The National Map products API.
type TNMCatalog struct {
	httpClient  *http.Client
	baseURL     string
	dataset     string
	prodFormats string
	pageSize    int
	cacheSize   int
	cacheTTL    time.Duration
	cache       *otter.Cache[string, []string]
}

// A TNMCatalogOption sets an option on a TNMCatalog.
type TNMCatalogOption func(*TNMCatalog)

type tnmProductsResponse struct {
	Total int `json:"total"`
	Items []struct {
		DownloadURL string `json:"downloadURL"`
	} `json:"items"`
	Errors []any `json:"errors"`
}

// NewTNMCatalog returns a new TNMCatalog with the given options.
func NewTNMCatalog(options ...TNMCatalogOption) (*TNMCatalog, error) {
	c := &TNMCatalog{
		httpClient:  http.DefaultClient,
		baseURL:     DefaultCatalogURL,
		dataset:     DefaultCatalogDataset,
		prodFormats: DefaultCatalogProdFormats,
		pageSize:    DefaultCatalogPageSize,
		cacheSize:   64,
		cacheTTL:    DefaultCatalogCacheTTL,
	}
	for _, option := range options {
		option(c)
	}

	if c.cacheTTL <= 0 {
		return c, nil
	}
	var err error
	c.cache, err = otter.New(&otter.Options[string, []string]{
		MaximumSize:      c.cacheSize,
		ExpiryCalculator: otter.ExpiryWriting[string, []string](c.cacheTTL),
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func WithCatalogHTTPClient(httpClient *http.Client) TNMCatalogOption {
	return func(c *TNMCatalog) {
		c.httpClient = httpClient
	}
}

func WithCatalogURL(baseURL string) TNMCatalogOption {
	return func(c *TNMCatalog) {
		c.baseURL = baseURL
	}
}

func WithCatalogDataset(dataset string) TNMCatalogOption {
	return func(c *TNMCatalog) {
		c.dataset = dataset
	}
}

// WithCatalogCacheTTL sets how long the results for a polygon are reused. A
// ttl of zero or less disables caching.
func WithCatalogCacheTTL(ttl time.Duration) TNMCatalogOption {
	return func(c *TNMCatalog) {
		c.cacheTTL = ttl
	}
}

func WithCatalogPageSize(pageSize int) TNMCatalogOption {
	return func(c *TNMCatalog) {
		c.pageSize = pageSize
	}
}

// Query returns the download URLs of the products intersecting
// polygonQuery, which must already be URL-encoded. Results are cached per
// polygon for the cache TTL, so products published in the meantime are only
// seen once it has passed. Errors wrap ErrCatalogQuery.
func (c *TNMCatalog) Query(ctx context.Context, polygonQuery string) ([]string, error) {
	if c.cache == nil {
		urls, err := c.query(ctx, polygonQuery)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCatalogQuery, err)
		}
		return urls, nil
	}
	if urls, ok := c.cache.GetIfPresent(polygonQuery); ok {
		catalogCacheHits.Inc()
		return urls, nil
	}
	urls, err := c.cache.Get(ctx, polygonQuery, otter.LoaderFunc[string, []string](c.query))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogQuery, err)
	}
	return urls, nil
}

// query fetches every page of results for polygonQuery.
func (c *TNMCatalog) query(ctx context.Context, polygonQuery string) ([]string, error) {
	catalogCacheMisses.Inc()
	var urls []string
	seen := make(map[string]struct{})
	for offset := 0; ; {
		resp, err := c.queryPage(ctx, polygonQuery, offset)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			if item.DownloadURL == "" {
				continue
			}
			if _, ok := seen[item.DownloadURL]; ok {
				continue
			}
			seen[item.DownloadURL] = struct{}{}
			urls = append(urls, item.DownloadURL)
		}
		offset += len(resp.Items)
		if len(resp.Items) == 0 || offset >= resp.Total {
			return urls, nil
		}
	}
}

func (c *TNMCatalog) queryPage(ctx context.Context, polygonQuery string, offset int) (*tnmProductsResponse, error) {
	// The polygon is already encoded and its commas must not be escaped again,
	// so the query string is built by hand.
	rawURL := c.baseURL +
		"?polygon=" + polygonQuery +
		"&datasets=" + url.PathEscape(c.dataset) +
		"&prodFormats=" + url.QueryEscape(c.prodFormats) +
		"&outputFormat=JSON" +
		"&max=" + strconv.Itoa(c.pageSize) +
		"&offset=" + strconv.Itoa(offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%s: %s", resp.Status, body)
	}

	var productsResponse tnmProductsResponse
	if err := json.NewDecoder(resp.Body).Decode(&productsResponse); err != nil {
		return nil, err
	}
	if len(productsResponse.Errors) != 0 {
		return nil, fmt.Errorf("%v", productsResponse.Errors)
	}
	return &productsResponse, nil
}
