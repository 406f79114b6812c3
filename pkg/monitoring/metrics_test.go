package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorPrefixesServiceName(t *testing.T) {
	mc := NewMetricsCollector("api-insights", "v1", "abc123")
	counter := mc.NewCounter("builds_total", "Builds", []string{"status"})
	counter.WithLabelValues("success").Inc()

	expected := `
# HELP api_insights_builds_total Builds
# TYPE api_insights_builds_total counter
api_insights_builds_total{status="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(mc.Registry(), strings.NewReader(expected), "api_insights_builds_total"))
	count, err := testutil.GatherAndCount(mc.Registry(), "api_insights_service_info")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsMiddlewareRecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mc := NewMetricsCollector("insights", "dev", "none")
	router := gin.New()
	router.Use(mc.MetricsMiddleware())
	router.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for range 2 {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/42", nil))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, float64(2), testutil.ToFloat64(mc.httpRequestsTotal.WithLabelValues(http.MethodGet, "/users/:id", "204")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.httpRequestsTotal.WithLabelValues(http.MethodGet, "unknown", "404")))
}
