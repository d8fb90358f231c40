package googlesearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/digiheadway/goposter/internal/config"
	"github.com/digiheadway/goposter/internal/keypool"
	"github.com/digiheadway/goposter/internal/logger"
	"github.com/digiheadway/goposter/internal/metrics"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Response is the subset of a Custom Search image response the pipeline
// looks at.
type Response struct {
	Link           string
	TotalResults   string
	CorrectedQuery string
	// Raw is the JSON body, kept for extra_info when the answer is unexpected.
	Raw string
}

// ImageSearcher runs one image search with one API key.
type ImageSearcher interface {
	SearchImage(ctx context.Context, apiKey, query string) (*Response, error)
}

// Client calls the Custom Search JSON API. It keeps one service per API key
// since the key is bound to the service at construction.
type Client struct {
	engineID string
	suffix   string
	endpoint string
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	services map[string]*customsearch.Service
}

var _ ImageSearcher = (*Client)(nil)

// NewClient creates a Client. An empty endpoint uses Google's default.
func NewClient(searchCfg config.SearchConfig, googleCfg config.GoogleConfig, log *slog.Logger) *Client {
	return &Client{
		engineID: searchCfg.EngineID,
		suffix:   searchCfg.QuerySuffix,
		endpoint: googleCfg.Endpoint,
		timeout:  searchCfg.Timeout(),
		logger:   log.With("component", "googlesearch"),
		services: make(map[string]*customsearch.Service),
	}
}

func (c *Client) service(ctx context.Context, apiKey string) (*customsearch.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if svc, ok := c.services[apiKey]; ok {
		return svc, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search service: %w", err)
	}
	c.services[apiKey] = svc
	return svc, nil
}

// Forget drops the cached service for a key, e.g. after it is deleted.
func (c *Client) Forget(apiKey string) {
	c.mu.Lock()
	delete(c.services, apiKey)
	c.mu.Unlock()
}

// SearchImage asks for the first image matching query plus the poster
// suffix. Non-2xx answers come back as *googleapi.Error.
func (c *Client) SearchImage(ctx context.Context, apiKey, query string) (*Response, error) {
	svc, err := c.service(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := strings.TrimSpace(query + " " + c.suffix)
	start := time.Now()
	res, err := svc.Cse.List().Cx(c.engineID).Q(q).SearchType("image").Context(ctx).Do()
	metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Debug("Custom search call failed", "key_suffix", logger.KeySuffix(apiKey), "error", err)
		return nil, err
	}

	out := &Response{}
	if len(res.Items) > 0 && res.Items[0] != nil {
		out.Link = res.Items[0].Link
	}
	if res.SearchInformation != nil {
		out.TotalResults = res.SearchInformation.TotalResults
	}
	if res.Spelling != nil {
		out.CorrectedQuery = res.Spelling.CorrectedQuery
	}
	if out.Link == "" {
		if raw, err := json.Marshal(res); err == nil {
			out.Raw = string(raw)
		}
	}
	return out, nil
}

// Classify maps one call's result to a key outcome. The order matters: a
// usable link wins, then rate limiting, then an empty result set, then a bad
// request, then a spelling suggestion.
func Classify(resp *Response, err error) keypool.Outcome {
	if err == nil && resp != nil && resp.Link != "" {
		return keypool.OutcomeFound
	}
	status := StatusCode(err)
	if status == http.StatusTooManyRequests {
		return keypool.OutcomeRateLimited
	}
	if resp != nil && resp.TotalResults == "0" {
		return keypool.OutcomeEmpty
	}
	if status == http.StatusBadRequest {
		return keypool.OutcomeBadRequest
	}
	if resp != nil && resp.CorrectedQuery != "" {
		return keypool.OutcomeSpelling
	}
	return keypool.OutcomeOther
}

// StatusCode extracts the HTTP status from a Google API error, or 0.
func StatusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
