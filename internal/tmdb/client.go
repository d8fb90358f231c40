package tmdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digiheadway/goposter/internal/config"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultEndpoint  = "https://api.themoviedb.org/3"
	DefaultImageBase = "https://image.tmdb.org/t/p/w500"
)

// ErrNoPoster is returned when TMDB has no movie or show with a poster for
// the query.
var ErrNoPoster = errors.New("no poster found on tmdb")

// PosterFinder looks up a poster image URL by free-text title.
type PosterFinder interface {
	SearchPoster(ctx context.Context, query string) (string, error)
}

type searchResult struct {
	ID         int64  `json:"id"`
	MediaType  string `json:"media_type"`
	Title      string `json:"title"`
	Name       string `json:"name"`
	PosterPath string `json:"poster_path"`
}

type searchResponse struct {
	Page    int            `json:"page"`
	Results []searchResult `json:"results"`
}

// Client is a TMDB v3 API client authenticated with a read access token.
type Client struct {
	httpClient *resty.Client
	imageBase  string
}

var _ PosterFinder = (*Client)(nil)

// NewClient creates a Client, or returns nil when no token is configured.
func NewClient(cfg config.TMDBConfig, timeout time.Duration) *Client {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	imageBase := strings.TrimRight(cfg.ImageBase, "/")
	if imageBase == "" {
		imageBase = DefaultImageBase
	}

	client := resty.New().
		SetBaseURL(endpoint).
		SetAuthToken(cfg.Token).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "goposter/1.0").
		SetTimeout(timeout)

	return &Client{httpClient: client, imageBase: imageBase}
}

// SearchPoster runs a multi search and returns the full image URL of the
// first movie or TV result that has a poster.
func (c *Client) SearchPoster(ctx context.Context, query string) (string, error) {
	var result searchResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("query", query).
		SetQueryParam("include_adult", "false").
		SetQueryParam("page", "1").
		SetResult(&result).
		Get("/search/multi")
	if err != nil {
		return "", fmt.Errorf("failed to query tmdb search: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("tmdb search error (status %d): %s", resp.StatusCode(), resp.String())
	}

	for _, r := range result.Results {
		if r.PosterPath == "" {
			continue
		}
		if r.MediaType != "movie" && r.MediaType != "tv" {
			continue
		}
		return c.imageBase + r.PosterPath, nil
	}
	return "", ErrNoPoster
}
