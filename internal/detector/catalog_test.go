package detector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogOrderedBySize(t *testing.T) {
	models := Catalog()
	require.Len(t, models, 5)
	assert.Equal(t, DefaultModel, models[0].File)
	for i := 1; i < len(models); i++ {
		assert.Less(t, models[i-1].SizeMB, models[i].SizeMB)
	}
}

func TestLookup(t *testing.T) {
	m, err := Lookup("weights/yolov8s.pt")
	require.NoError(t, err)
	assert.Equal(t, "YOLOv8 Small", m.Name)
	assert.Equal(t, releaseBase+"yolov8s.pt", m.URL())

	_, err = Lookup("resnet.pt")
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func newTestDownloader(url string) *Downloader {
	return &Downloader{HTTP: http.DefaultClient, BaseURL: url + "/", MaxElapsed: 2 * time.Second}
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("weights"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	var last int64
	path, err := newTestDownloader(srv.URL).Download(context.Background(), dir, catalog["yolov8n.pt"], func(done, _ int64) { last = done })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "yolov8n.pt"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))
	assert.EqualValues(t, 7, last)
	assert.EqualValues(t, 2, calls.Load())
	assert.True(t, Installed(dir, catalog["yolov8n.pt"]))
}

func TestDownloadNotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := newTestDownloader(srv.URL).Download(context.Background(), dir, catalog["yolov8m.pt"], nil)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, Installed(dir, catalog["yolov8m.pt"]))
}

func TestDownloadSkipsInstalled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yolov8x.pt"), []byte("x"), 0o644))
	d := newTestDownloader("http://127.0.0.1:1")
	path, err := d.Download(context.Background(), dir, catalog["yolov8x.pt"], nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "yolov8x.pt"), path)
}
