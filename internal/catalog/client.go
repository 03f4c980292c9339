package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"BytesmeSearch/internal/backend"
	"BytesmeSearch/internal/cache"
	"BytesmeSearch/internal/config"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultCacheTTL bounds how long a product detail is served from memory
const DefaultCacheTTL = 10 * time.Minute

// Client fetches product details from the catalog backend
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	cache      sync.Map
	ttl        time.Duration
	now        func() time.Time
}

// NewClient creates a product detail client for cfg
func NewClient(cfg config.Config, logger *slog.Logger, tracer trace.Tracer) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("catalog")
	}

	// Product details are plain HTTP even when the stream runs over websocket.
	base := strings.TrimRight(cfg.BaseURL, "/")
	base = strings.Replace(base, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)

	path := cfg.ProductPath
	if path == "" {
		path = config.DefaultProductPath
	}

	return &Client{
		baseURL:    base + path,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		tracer:     tracer,
		ttl:        DefaultCacheTTL,
		now:        time.Now,
	}, nil
}

func (c *Client) checkCache(cacheKey string) (backend.ProductDetailResponse, bool) {
	if v, ok := c.cache.Load(cacheKey); ok {
		cached := v.(cache.CachedProduct)
		if cached.Fresh(c.now(), c.ttl) {
			return cached.Detail, true
		}
		c.cache.Delete(cacheKey)
	}
	return backend.ProductDetailResponse{}, false
}

func (c *Client) storeCache(cacheKey string, detail backend.ProductDetailResponse) {
	c.cache.Store(cacheKey, cache.CachedProduct{
		Detail:    detail,
		Timestamp: c.now(),
	})
}

// Product returns the detail of one product, served from cache when possible
func (c *Client) Product(ctx context.Context, productID string) (backend.ProductDetailResponse, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return backend.ProductDetailResponse{}, fmt.Errorf("product id is required")
	}

	cacheKey := cache.GenerateCacheKey(c.baseURL, productID)
	if detail, ok := c.checkCache(cacheKey); ok {
		c.logger.Debug("product cache hit", "product_id", productID)
		return detail, nil
	}

	ctx, span := c.tracer.Start(ctx, "catalog.product",
		trace.WithAttributes(attribute.String("product.id", productID)))
	defer span.End()

	detail, err := c.fetch(ctx, productID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return backend.ProductDetailResponse{}, err
	}

	c.storeCache(cacheKey, detail)
	return detail, nil
}

func (c *Client) fetch(ctx context.Context, productID string) (backend.ProductDetailResponse, error) {
	var detail backend.ProductDetailResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(productID), nil)
	if err != nil {
		return detail, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return detail, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return detail, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("product lookup failed", "product_id", productID, "status", resp.StatusCode)
		return detail, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, &detail); err != nil {
		return detail, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Info("product fetched", "product_id", productID)
	return detail, nil
}
