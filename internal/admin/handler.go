package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digiheadway/goposter/internal/db"
	"github.com/digiheadway/goposter/internal/keypool"
	"github.com/digiheadway/goposter/internal/model"
	"github.com/digiheadway/goposter/internal/query"

	"github.com/gin-gonic/gin"
)

// Rows flagged as the wrong image need this many hits and this share of
// "not this" votes before they are queued for review.
const (
	notThisMinHits  = 20
	notThisMinRatio = 0.05
)

type KeysRequest struct {
	Keys []string `json:"keys"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type ImageRequest struct {
	Query    string `json:"query"`
	ImageURL string `json:"imageUrl"`
}

type CorrectRequest struct {
	Correct string `json:"correct"`
}

// CacheInvalidator drops a normalized query from the shared cache.
type CacheInvalidator interface {
	Forget(ctx context.Context, normalized string) error
}

// KeyForgetter releases upstream clients held for an API key.
type KeyForgetter interface {
	Forget(key string)
}

type Handler struct {
	db      db.Service
	keys    keypool.Manager
	cache   CacheInvalidator
	clients KeyForgetter
	logger  *slog.Logger
}

func NewHandler(dbService db.Service, keys keypool.Manager, cache CacheInvalidator, clients KeyForgetter, logger *slog.Logger) *Handler {
	return &Handler{db: dbService, keys: keys, cache: cache, clients: clients, logger: logger.With("component", "admin")}
}

func (h *Handler) ListKeysHandler(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !model.ValidKeyStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status"})
		return
	}
	keys, err := h.db.ListKeys(status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list keys"})
		return
	}
	c.JSON(http.StatusOK, keys)
}

func (h *Handler) AddKeysHandler(c *gin.Context) {
	keys, ok := bindKeys(c)
	if !ok {
		return
	}
	if err := h.db.BatchAddKeys(keys); err != nil {
		h.logger.Error("Failed to add keys", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Keys added successfully"})
}

func (h *Handler) DeleteKeysHandler(c *gin.Context) {
	keys, ok := bindKeys(c)
	if !ok {
		return
	}
	if err := h.db.BatchDeleteKeys(keys); err != nil {
		h.logger.Error("Failed to delete keys", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete keys"})
		return
	}
	if h.clients != nil {
		for _, k := range keys {
			h.clients.Forget(k)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Keys deleted successfully"})
}

func bindKeys(c *gin.Context) ([]string, bool) {
	var req KeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return nil, false
	}
	keys := make([]string, 0, len(req.Keys))
	for _, k := range req.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Keys list cannot be empty"})
		return nil, false
	}
	return keys, true
}

// RestoreKeysHandler runs the cooldown restoration immediately.
func (h *Handler) RestoreKeysHandler(c *gin.Context) {
	restored, err := h.keys.Restore()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to restore keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": restored})
}

func (h *Handler) SetKeyStatusHandler(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !model.ValidKeyStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}
	err := h.db.SetKeyStatus(c.Param("key"), req.Status, time.Now())
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key status updated"})
}

// PendingQueryHandler returns the next row to moderate. mode=not-this picks
// rows users flag as the wrong image; q= fetches one row by query text.
func (h *Handler) PendingQueryHandler(c *gin.Context) {
	var (
		row *model.Query
		err error
	)
	switch {
	case c.Query("q") != "":
		row, err = h.db.FindQuery(query.Normalize(c.Query("q")))
	case c.Query("mode") == "not-this":
		row, err = h.db.NextNotThisQuery(notThisMinHits, notThisMinRatio)
	default:
		row, err = h.db.NextPendingQuery()
	}
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Nothing to moderate"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load query"})
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *Handler) ApproveQueryHandler(c *gin.Context) {
	h.setApproval(c, true)
}

func (h *Handler) DisapproveQueryHandler(c *gin.Context) {
	h.setApproval(c, false)
}

func (h *Handler) setApproval(c *gin.Context, approved bool) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if !h.respond(c, h.db.SetQueryApproval(id, approved)) {
		return
	}
	h.forget(c, id)
	c.JSON(http.StatusOK, gin.H{"id": id, "approved": approved})
}

func (h *Handler) UpdateQueryImageHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ImageURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "imageUrl is required"})
		return
	}
	if !h.respond(c, h.db.UpdateQueryImage(id, strings.TrimSpace(req.ImageURL))) {
		return
	}
	h.forget(c, id)
	c.JSON(http.StatusOK, gin.H{"id": id, "imageUrl": strings.TrimSpace(req.ImageURL)})
}

func (h *Handler) CorrectQueryHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req CorrectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	correct := query.Normalize(req.Correct)
	if correct == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "correct is required"})
		return
	}
	if !h.respond(c, h.db.CorrectQuery(id, correct)) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "correct": correct})
}

// AddImageHandler stores a curated image. Curated images win over every
// queries row.
func (h *Handler) AddImageHandler(c *gin.Context) {
	var req ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	q := query.Normalize(req.Query)
	url := strings.TrimSpace(req.ImageURL)
	if q == "" || url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query and imageUrl are required"})
		return
	}
	img := &model.Image{Query: q, ImageURL: url}
	if err := h.db.AddImage(img); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add image"})
		return
	}
	if h.cache != nil {
		if err := h.cache.Forget(c.Request.Context(), q); err != nil {
			h.logger.Warn("Failed to invalidate cache", "query", q, "error", err)
		}
	}
	c.JSON(http.StatusCreated, img)
}

func (h *Handler) StatsHandler(c *gin.Context) {
	stats, err := h.db.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

// respond writes the error response for err and reports whether the caller
// should go on.
func (h *Handler) respond(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Query not found"})
	default:
		h.logger.Error("Moderation update failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update query"})
	}
	return false
}

func (h *Handler) forget(c *gin.Context, id uint) {
	if h.cache == nil {
		return
	}
	row, err := h.db.GetQuery(id)
	if err != nil {
		return
	}
	if err := h.cache.Forget(c.Request.Context(), row.Query); err != nil {
		h.logger.Warn("Failed to invalidate cache", "query", row.Query, "error", err)
	}
}
