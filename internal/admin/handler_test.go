package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digiheadway/goposter/internal/config"
	"github.com/digiheadway/goposter/internal/db"
	"github.com/digiheadway/goposter/internal/keypool"
	"github.com/digiheadway/goposter/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "test-password"

// mockDBService is a mock implementation of the db.Service interface for testing.
type mockDBService struct {
	db.Service
	listKeysErr error
	statsErr    error
}

func (m *mockDBService) ListKeys(string) ([]model.SearchKey, error) {
	if m.listKeysErr != nil {
		return nil, m.listKeysErr
	}
	return []model.SearchKey{}, nil
}

func (m *mockDBService) Stats() (*db.Stats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return &db.Stats{}, nil
}

type recordingCache struct {
	forgotten []string
}

func (r *recordingCache) Forget(_ context.Context, q string) error {
	r.forgotten = append(r.forgotten, q)
	return nil
}

type recordingClients struct {
	forgotten []string
}

func (r *recordingClients) Forget(key string) {
	r.forgotten = append(r.forgotten, key)
}

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupTestRouter(dbService db.Service, cache CacheInvalidator, clients KeyForgetter) *gin.Engine {
	router := gin.New()
	cfg := &config.Config{Admin: config.AdminConfig{Password: testPassword}}
	pool := keypool.NewPool(dbService, config.SearchConfig{}, testLogger)
	SetupRoutes(router, dbService, pool, cache, clients, cfg, testLogger)
	return router
}

func setupRealDB(t *testing.T) db.Service {
	service, err := db.NewService(config.DatabaseConfig{
		Type: "sqlite",
		DSN:  "file::memory:",
	})
	if err != nil {
		t.Fatalf("Failed to create real db service: %v", err)
	}
	return service
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.SetBasicAuth("admin", testPassword)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestKeyHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dbService := setupRealDB(t)
	clients := &recordingClients{}
	router := setupTestRouter(dbService, nil, clients)

	// Test without auth
	req, _ := http.NewRequest(http.MethodGet, "/admin/api-keys", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	// 1. Add keys, duplicates ignored
	resp = do(t, router, http.MethodPost, "/admin/api-keys", `{"keys": ["key-one", "key-two", "key-one", " "]}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = do(t, router, http.MethodPost, "/admin/api-keys", `{"keys": ["key-two"]}`)
	assert.Equal(t, http.StatusOK, resp.Code)

	// 2. List
	resp = do(t, router, http.MethodGet, "/admin/api-keys", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var keys []model.SearchKey
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &keys))
	assert.Len(t, keys, 2)

	// 3. Force a status, then filter by it
	resp = do(t, router, http.MethodPut, "/admin/api-keys/key-one/status", `{"status": "exhausted"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = do(t, router, http.MethodGet, "/admin/api-keys?status=exhausted", "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &keys))
	require.Len(t, keys, 1)
	assert.Equal(t, "key-one", keys[0].APIKey)

	resp = do(t, router, http.MethodPut, "/admin/api-keys/key-one/status", `{"status": "sleeping"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = do(t, router, http.MethodPut, "/admin/api-keys/missing/status", `{"status": "active"}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = do(t, router, http.MethodGet, "/admin/api-keys?status=sleeping", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// 4. Restore picks up keys exhausted past the cooldown
	dbService.GetDB().Model(&model.SearchKey{}).Where("api_key = ?", "key-one").
		UpdateColumn("update_timestamp", time.Now().Add(-time.Hour))
	resp = do(t, router, http.MethodPost, "/admin/api-keys/restore", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"restored": 1}`, resp.Body.String())

	// 5. Delete
	resp = do(t, router, http.MethodDelete, "/admin/api-keys", `{"keys": ["key-one"]}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = do(t, router, http.MethodGet, "/admin/api-keys", "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &keys))
	assert.Len(t, keys, 1)
	assert.Equal(t, []string{"key-one"}, clients.forgotten, "deleted keys release their search clients")

	// Bad bodies
	resp = do(t, router, http.MethodPost, "/admin/api-keys", `{"keys": []}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = do(t, router, http.MethodDelete, "/admin/api-keys", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestModerationHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dbService := setupRealDB(t)
	cache := &recordingCache{}
	router := setupTestRouter(dbService, cache, nil)
	gdb := dbService.GetDB()

	now := time.Now()
	require.NoError(t, gdb.Create(&model.Query{Query: "incepshun", ImageURL: "https://img/a.jpg", Hits: 50, Timestamp: now}).Error)
	require.NoError(t, gdb.Create(&model.Query{Query: "matrix", ImageURL: "https://img/m.jpg", Hits: 30, NotThis: 6, Timestamp: now}).Error)

	// Pending picks the most requested unmoderated row.
	resp := do(t, router, http.MethodGet, "/admin/queries/pending", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var row model.Query
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &row))
	assert.Equal(t, "incepshun", row.Query)
	pendingID := row.ID

	// not-this mode: 6/30 = 0.2 > 0.05 with 30 > 20 hits.
	resp = do(t, router, http.MethodGet, "/admin/queries/pending?mode=not-this", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &row))
	assert.Equal(t, "matrix", row.Query)
	matrixID := row.ID

	// Lookup by query text is normalized.
	resp = do(t, router, http.MethodGet, "/admin/queries/pending?q=Watch+Matrix+HD", "")
	require.Equal(t, http.StatusOK, resp.Code)

	// Replacing the image resets not_this and invalidates the cache.
	resp = do(t, router, http.MethodPut, fmt.Sprintf("/admin/queries/%d/image", matrixID), `{"imageUrl": "https://img/m2.jpg"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	fixed, err := dbService.GetQuery(matrixID)
	require.NoError(t, err)
	assert.Equal(t, "https://img/m2.jpg", fixed.ImageURL)
	assert.Equal(t, int64(0), fixed.NotThis)
	assert.Contains(t, cache.forgotten, "matrix")

	resp = do(t, router, http.MethodGet, "/admin/queries/pending?mode=not-this", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	// Approve and disapprove.
	resp = do(t, router, http.MethodPost, fmt.Sprintf("/admin/queries/%d/approve", matrixID), "")
	require.Equal(t, http.StatusOK, resp.Code)
	approved, err := dbService.FindApprovedQuery("matrix")
	require.NoError(t, err)
	assert.Equal(t, matrixID, approved.ID)

	resp = do(t, router, http.MethodPost, fmt.Sprintf("/admin/queries/%d/disapprove", matrixID), "")
	require.Equal(t, http.StatusOK, resp.Code)
	_, err = dbService.FindApprovedQuery("matrix")
	assert.ErrorIs(t, err, db.ErrNotFound)

	// Correction seeds an approved row under the corrected name.
	resp = do(t, router, http.MethodPost, fmt.Sprintf("/admin/queries/%d/correct", pendingID), `{"correct": "Inception"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	seeded, err := dbService.FindApprovedQuery("inception")
	require.NoError(t, err)
	assert.Equal(t, "https://img/a.jpg", seeded.ImageURL)

	// Both rows are now moderated or corrected.
	resp = do(t, router, http.MethodGet, "/admin/queries/pending", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	// Errors
	resp = do(t, router, http.MethodPost, "/admin/queries/abc/approve", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = do(t, router, http.MethodPost, "/admin/queries/9999/approve", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = do(t, router, http.MethodPut, fmt.Sprintf("/admin/queries/%d/image", matrixID), `{"imageUrl": ""}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = do(t, router, http.MethodPost, fmt.Sprintf("/admin/queries/%d/correct", pendingID), `{"correct": "hd"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestImageAndStatsHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dbService := setupRealDB(t)
	cache := &recordingCache{}
	router := setupTestRouter(dbService, cache, nil)

	resp := do(t, router, http.MethodPost, "/admin/images", `{"query": "Watch Dune HD", "imageUrl": "https://img/dune.jpg"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	var img model.Image
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &img))
	assert.Equal(t, "dune", img.Query)
	assert.Equal(t, []string{"dune"}, cache.forgotten)

	found, err := dbService.FindImage("dune")
	require.NoError(t, err)
	assert.Equal(t, "https://img/dune.jpg", found.ImageURL)

	resp = do(t, router, http.MethodPost, "/admin/images", `{"query": "hd", "imageUrl": "https://img/x.jpg"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	require.NoError(t, dbService.BatchAddKeys([]string{"k1", "k2"}))
	require.NoError(t, dbService.LogExtraInfo("note", ""))

	resp = do(t, router, http.MethodGet, "/admin/stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var stats db.Stats
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	assert.Equal(t, db.Stats{Images: 1, Queries: 0, ExtraInfo: 1, UsableKeys: 2, TotalKeys: 2}, stats)
}

func TestHandlerDatabaseErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockDB := &mockDBService{listKeysErr: errors.New("db error"), statsErr: errors.New("db error")}
	router := setupTestRouter(mockDB, nil, nil)

	resp := do(t, router, http.MethodGet, "/admin/api-keys", "")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)

	resp = do(t, router, http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}
