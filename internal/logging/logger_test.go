package logging

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"driveguard/internal/config"
)

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(config.Log{Level: "loud", Format: "json"})
	assert.Error(t, err)
	_, err = New(config.Log{Level: "info", Format: "xml"})
	assert.Error(t, err)

	logger, err := New(config.Log{Level: "debug", Format: "console", File: filepath.Join(t.TempDir(), "api.log")})
	require.NoError(t, err)
	logger.Debug("ok")
	_ = logger.Sync()
}

func TestMiddlewareLogsStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Middleware(zap.New(core), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.EqualValues(t, 15, fields["bytes"])
	assert.Equal(t, "/healthz", fields["path"])
}
