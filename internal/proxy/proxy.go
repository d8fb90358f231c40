package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/digiheadway/goposter/internal/config"
	"github.com/digiheadway/goposter/internal/tmdb"
)

// detailsCacheControl is sent on successful detail lookups; titles and
// posters change rarely.
const detailsCacheControl = "public, max-age=86400"

// TMDBProxy forwards /api/movie/:id and /api/tv/:id to the TMDB details API
// with the server's read access token, so the token never reaches browsers.
type TMDBProxy struct {
	token        string
	reverseProxy *httputil.ReverseProxy
	targetURL    *url.URL
	logger       *slog.Logger
}

// newTMDBProxyWithURL is the internal constructor that allows for custom target URLs, making it testable.
func newTMDBProxyWithURL(token, target string, logger *slog.Logger) (*TMDBProxy, error) {
	targetURL, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	proxy := &TMDBProxy{
		token:     strings.TrimSpace(token),
		targetURL: targetURL,
		logger:    logger.With("component", "proxy"),
	}
	if proxy.token == "" {
		proxy.logger.Warn("No TMDB token configured. Details proxy will return 503.")
	}

	basePath := strings.TrimRight(targetURL.Path, "/")
	proxy.reverseProxy = &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = proxy.targetURL.Scheme
			req.URL.Host = proxy.targetURL.Host
			req.Host = proxy.targetURL.Host

			// /api/movie/603 -> {base}/movie/603
			req.URL.Path = basePath + strings.TrimPrefix(req.URL.Path, "/api")
			req.URL.RawPath = ""

			// Nothing from the browser is forwarded except the query string.
			req.Header.Del("Cookie")
			req.Header.Del("Referer")
			req.Header.Set("Accept", "application/json")
			req.Header.Set("Authorization", "Bearer "+proxy.token)

			proxy.logger.Debug("Proxying details request", "path", req.URL.Path)
		},
		ModifyResponse: proxy.modifyResponse,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrAbortHandler) {
				proxy.logger.Warn("Client disconnected", "error", err)
				return
			}
			proxy.logger.Error("Proxy error", "error", err)
			http.Error(w, "Proxy Error", http.StatusBadGateway)
		},
	}

	return proxy, nil
}

// NewTMDBProxy creates a TMDBProxy for the configured endpoint.
func NewTMDBProxy(cfg config.TMDBConfig, logger *slog.Logger) (*TMDBProxy, error) {
	target := cfg.Endpoint
	if target == "" {
		target = tmdb.DefaultEndpoint
	}
	return newTMDBProxyWithURL(cfg.Token, target, logger)
}

func (p *TMDBProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.token == "" {
		http.Error(w, "Service Unavailable: TMDB is not configured", http.StatusServiceUnavailable)
		return
	}
	p.reverseProxy.ServeHTTP(w, r)
}

func (p *TMDBProxy) modifyResponse(resp *http.Response) error {
	resp.Header.Del("Set-Cookie")
	resp.Header.Set("Access-Control-Allow-Origin", "*")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		resp.Header.Set("Cache-Control", detailsCacheControl)
	case resp.StatusCode == http.StatusUnauthorized:
		p.logger.Error("TMDB rejected the configured token", "status", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		p.logger.Warn("TMDB rate limit hit", "path", resp.Request.URL.Path)
	}
	return nil
}
