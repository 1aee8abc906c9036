package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
)

const (
	maxAttempts      = 3
	maxResponseBytes = 32 << 20
	searchDepth      = "advanced"
)

// Client handles communication with the Tavily search and extract API
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a new Tavily API client
func NewClient(apiKey, baseURL string, requestsPerMinute int, logger *zap.Logger) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 5)

	return &Client{
		httpClient: &http.Client{
			// Extraction of a full retailer batch can take close to two minutes
			Timeout: 150 * time.Second,
		},
		apiKey:      apiKey,
		baseURL:     baseURL,
		rateLimiter: limiter,
		logger:      logger.Named("tavily"),
	}
}

type searchRequest struct {
	Query             string   `json:"query"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
	MaxResults        int      `json:"max_results"`
	SearchDepth       string   `json:"search_depth"`
	IncludeAnswer     bool     `json:"include_answer"`
	IncludeImages     bool     `json:"include_images"`
	IncludeRawContent bool     `json:"include_raw_content"`
}

type searchResponse struct {
	Results []struct {
		URL   string  `json:"url"`
		Title string  `json:"title"`
		Score float64 `json:"score"`
	} `json:"results"`
}

type extractRequest struct {
	URLs          []string `json:"urls"`
	ExtractDepth  string   `json:"extract_depth"`
	IncludeImages bool     `json:"include_images"`
}

type extractResponse struct {
	Results []struct {
		URL        string   `json:"url"`
		RawContent string   `json:"raw_content"`
		Images     []string `json:"images"`
	} `json:"results"`
	FailedResults []struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	} `json:"failed_results"`
}

// Search finds candidate URLs restricted to the requested domains
func (c *Client) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchHit, error) {
	c.logger.Debug("search", zap.String("query", request.Query), zap.Strings("domains", request.Domains))

	body := searchRequest{
		Query:          request.Query,
		IncludeDomains: request.Domains,
		MaxResults:     request.MaxResults,
		SearchDepth:    searchDepth,
	}

	var resp searchResponse
	if err := c.post(ctx, "/search", body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSearchFailure, err)
	}

	hits := make([]domain.SearchHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.URL == "" {
			continue
		}
		hits = append(hits, domain.SearchHit{URL: r.URL, Title: r.Title, Score: r.Score})
	}
	c.logger.Debug("search results", zap.String("query", request.Query), zap.Int("hits", len(hits)))
	return hits, nil
}

// Extract fetches the raw content of a batch of URLs. URLs the service could
// not read are logged and omitted.
func (c *Client) Extract(ctx context.Context, urls []string) ([]domain.Page, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	body := extractRequest{URLs: urls, ExtractDepth: searchDepth, IncludeImages: true}
	var resp extractResponse
	if err := c.post(ctx, "/extract", body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExtractFailure, err)
	}

	for _, f := range resp.FailedResults {
		c.logger.Debug("extract failed for url", zap.String("url", f.URL), zap.String("error", f.Error))
	}

	pages := make([]domain.Page, 0, len(resp.Results))
	for _, r := range resp.Results {
		pages = append(pages, domain.Page{URL: r.URL, RawContent: r.RawContent, Images: r.Images})
	}
	return pages, nil
}

// errClientStatus marks a 4xx answer that must not be retried
var errClientStatus = errors.New("client error")

// post sends a JSON request with retries on transport errors, 429 and 5xx
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		}

		body, status, err := c.do(ctx, path, encoded)
		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusOK:
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Errorf("status %d: %s", status, truncate(body, 200))
		default:
			return fmt.Errorf("%w: status %d: %s", errClientStatus, status, truncate(body, 200))
		}

		c.logger.Warn("request failed", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(exponentialBackoff(attempt)):
			}
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, path string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "ShopLens/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := readLimitedBody(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// exponentialBackoff returns the wait before the next attempt: 500ms, 1s, 2s, ...
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(500*(1<<(attempt-1))) * time.Millisecond
}

func readLimitedBody(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
