package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digiheadway/goposter/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closeNotifierRecorder is a custom ResponseRecorder that implements http.CloseNotifier
type closeNotifierRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newCloseNotifierRecorder() *closeNotifierRecorder {
	return &closeNotifierRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		closed:           make(chan bool, 1),
	}
}

func (r *closeNotifierRecorder) CloseNotify() <-chan bool {
	return r.closed
}

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newRouter(p *TMDBProxy) *gin.Engine {
	router := gin.New()
	router.GET("/api/movie/:id", gin.WrapH(p))
	router.GET("/api/tv/:id", gin.WrapH(p))
	return router
}

func TestTMDBProxy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	upstreamServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Cookie"))
		assert.Equal(t, "en-US", r.URL.Query().Get("language"))
		w.Header().Set("Set-Cookie", "tracking=1")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/3/movie/603":
			io.WriteString(w, `{"id":603,"title":"The Matrix","poster_path":"/matrix.jpg"}`)
		case "/3/tv/1399":
			io.WriteString(w, `{"id":1399,"name":"Game of Thrones","number_of_seasons":8}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"status_code":34}`)
		}
	}))
	defer upstreamServer.Close()

	proxy, err := newTMDBProxyWithURL("test-token", upstreamServer.URL+"/3", testLogger)
	require.NoError(t, err)
	router := newRouter(proxy)

	t.Run("movie details", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/movie/603?language=en-US", nil)
		req.Header.Set("Cookie", "q=matrix")
		rr := newCloseNotifierRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"id":603,"title":"The Matrix","poster_path":"/matrix.jpg"}`, rr.Body.String())
		assert.Empty(t, rr.Header().Get("Set-Cookie"))
		assert.Equal(t, detailsCacheControl, rr.Header().Get("Cache-Control"))
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("tv details", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/tv/1399?language=en-US", nil)
		rr := newCloseNotifierRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "Game of Thrones")
	})

	t.Run("upstream status passes through", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/api/movie/0?language=en-US", nil)
		rr := newCloseNotifierRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Empty(t, rr.Header().Get("Cache-Control"))
	})
}

func TestTMDBProxy_NoToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	proxy, err := NewTMDBProxy(config.TMDBConfig{}, testLogger)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, "/api/movie/603", nil)
	rr := newCloseNotifierRecorder()
	newRouter(proxy).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestTMDBProxy_UpstreamDown(t *testing.T) {
	gin.SetMode(gin.TestMode)

	upstreamServer := httptest.NewServer(http.NotFoundHandler())
	upstreamURL := upstreamServer.URL
	upstreamServer.Close()

	proxy, err := newTMDBProxyWithURL("test-token", upstreamURL, testLogger)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, "/api/movie/603", nil)
	rr := newCloseNotifierRecorder()
	newRouter(proxy).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestNewTMDBProxy_UrlParseError(t *testing.T) {
	// Pass an invalid URL with a control character to force a parse error
	_, err := newTMDBProxyWithURL("test-token", "http://\x7f.com", testLogger)
	assert.Error(t, err)
}
