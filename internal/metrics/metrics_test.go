package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByRoute(t *testing.T) {
	h := Middleware(func(*http.Request) string { return "/api/status/{id}" }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues(http.MethodGet, "/api/status/{id}", "404"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/status/abc", nil))
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues(http.MethodGet, "/api/status/{id}", "404"))
	assert.Equal(t, before+1, after)
}

func TestHandlerExposesCollectors(t *testing.T) {
	JobsTotal.WithLabelValues("completed").Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `analysis_jobs_total{outcome="completed"}`))
	assert.Contains(t, body, "analysis_queue_depth")
}
