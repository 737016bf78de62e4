package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The default otel meter provider is a no-op; all instruments must still be
// safe to use.
func TestHTTPMetricsNoopProvider(t *testing.T) {
	m := NewHTTPMetrics(nil)
	require.NotNil(t, m)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", "/"},
		{"/healthz", "/healthz"},
		{"/api/lessons/42/apply", "/api/lessons/{id}/apply"},
		{"/api/lessons/7/deprecate", "/api/lessons/{id}/deprecate"},
		{"/api/recall", "/api/recall"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.path), tt.path)
	}
}
