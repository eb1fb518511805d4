package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func brotliRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BrotliWithConfig(BrotliConfig{MinLength: 64, Skipper: SkipPrefixes("/uploads")}))
	big := strings.Repeat("exam ", 100)
	r.GET("/api", func(c *gin.Context) { c.String(http.StatusOK, big) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/image", func(c *gin.Context) { c.Data(http.StatusOK, "image/png", []byte(big)) })
	r.GET("/uploads/x", func(c *gin.Context) { c.String(http.StatusOK, big) })
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=0.9")
	r.ServeHTTP(w, req)
	return w
}

func TestBrotli_CompressesLargeText(t *testing.T) {
	w := get(brotliRouter(), "/api")

	require.Equal(t, "br", w.Header().Get("Content-Encoding"))
	body, err := io.ReadAll(brotli.NewReader(w.Body))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("exam ", 100), string(body))
}

func TestBrotli_PassThrough(t *testing.T) {
	r := brotliRouter()
	for _, path := range []string{"/small", "/image", "/uploads/x"} {
		w := get(r, path)
		assert.Empty(t, w.Header().Get("Content-Encoding"), path)
	}
	assert.Equal(t, "ok", get(r, "/small").Body.String())
}

func TestBrotli_ReusesPooledWriters(t *testing.T) {
	r := brotliRouter()
	for i := 0; i < 3; i++ {
		w := get(r, "/api")
		body, err := io.ReadAll(brotli.NewReader(w.Body))
		require.NoError(t, err)
		assert.Len(t, body, 500)
	}
}
