package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digiheadway/goposter/internal/auth"
	"github.com/digiheadway/goposter/internal/db"
	"github.com/digiheadway/goposter/internal/query"
	"github.com/digiheadway/goposter/internal/search"

	"github.com/gin-gonic/gin"
)

// ResultSourceHeader tells callers which stage answered.
const ResultSourceHeader = "X-Result-Source"

// Searcher is the search pipeline as seen by the HTTP layer.
type Searcher interface {
	Search(ctx context.Context, raw, requestID string, front ...search.Tier) (*search.Result, error)
}

type Handler struct {
	search       Searcher
	db           db.Service
	cookieMaxAge int
	logger       *slog.Logger
}

func NewHandler(searcher Searcher, dbService db.Service, cookieMaxAge int, logger *slog.Logger) *Handler {
	return &Handler{
		search:       searcher,
		db:           dbService,
		cookieMaxAge: cookieMaxAge,
		logger:       logger.With("component", "server"),
	}
}

type searchResponse struct {
	ImageURL       string `json:"imageUrl"`
	CorrectedQuery string `json:"correctedQuery,omitempty"`
}

// SearchHandler serves GET /search.php?q= and /api/search?q=.
func (h *Handler) SearchHandler(c *gin.Context) {
	normalized := query.Normalize(c.Query("q"))
	if normalized == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No query provided"})
		return
	}
	h.setCookie(c, "q", normalized)

	res, err := h.search.Search(c.Request.Context(), normalized, auth.RequestID(c), search.FromCookies(c))
	if errors.Is(err, search.ErrEmptyQuery) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No query provided"})
		return
	}
	if err != nil {
		h.logger.Error("Search failed", "query", normalized, "request_id", auth.RequestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}

	if res.Source != search.SourceCookie {
		h.recordDomain(c)
	}

	switch res.Source {
	case search.SourceAPI, search.SourceTMDB:
		h.setCookie(c, query.CookieName(res.Query), res.ImageURL)
	}
	if res.Empty {
		h.setCookie(c, "results", "0 Results")
	}
	if res.BadRequest {
		h.setCookie(c, "req", "400 bad")
	}
	h.setCookie(c, "from", string(res.Source))
	c.Header(ResultSourceHeader, string(res.Source))

	c.JSON(http.StatusOK, searchResponse{ImageURL: res.ImageURL, CorrectedQuery: res.CorrectedQuery})
}

// NormalizeHandler reports the canonical form of q so pages can redirect to it.
func (h *Handler) NormalizeHandler(c *gin.Context) {
	raw := c.Query("q")
	normalized := query.Normalize(raw)
	c.JSON(http.StatusOK, gin.H{
		"query":      raw,
		"normalized": normalized,
		"changed":    !query.IsNormalized(raw),
	})
}

func (h *Handler) NotThisHandler(c *gin.Context) {
	h.bumpCounter(c, "not_this")
}

func (h *Handler) DownTriedHandler(c *gin.Context) {
	h.bumpCounter(c, "down_tried")
}

func (h *Handler) bumpCounter(c *gin.Context, column string) {
	normalized := query.Normalize(c.Query("q"))
	if normalized == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No query provided"})
		return
	}
	updated, err := h.db.IncrementQueryCounter(column, normalized)
	if err != nil {
		h.logger.Error("Failed to record feedback", "column", column, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record feedback"})
		return
	}
	if !updated {
		c.JSON(http.StatusNotFound, gin.H{"error": "Query not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": normalized, "updated": true})
}

func (h *Handler) HealthHandler(c *gin.Context) {
	sqlDB, err := h.db.GetDB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// setCookie writes a site-wide cookie. gin url-encodes the value.
func (h *Handler) setCookie(c *gin.Context, name, value string) {
	c.SetCookie(name, value, h.cookieMaxAge, "/", "", false, false)
}

func (h *Handler) recordDomain(c *gin.Context) {
	domain := callerDomain(c.Request)
	if domain == "" {
		return
	}
	if err := h.db.RecordDomain(domain, time.Now()); err != nil {
		h.logger.Warn("Failed to record domain", "domain", domain, "error", err)
	}
}

// callerDomain is the Referer host when present, else the Host header,
// without port.
func callerDomain(r *http.Request) string {
	host := r.Host
	if ref := r.Referer(); ref != "" {
		if u, err := url.Parse(ref); err == nil && u.Host != "" {
			host = u.Host
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
