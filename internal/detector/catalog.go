// Package detector describes the object-detection weights the extractor can load
// and fetches them on request.
package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff"
)

const releaseBase = "https://github.com/ultralytics/assets/releases/download/v0.0.0/"

// Model is one downloadable weights file.
type Model struct {
	File        string
	Name        string
	SizeMB      float64
	Speed       string
	Accuracy    string
	MAP         float64
	Description string
}

// URL returns the download location of the weights.
func (m Model) URL() string { return releaseBase + m.File }

// DefaultModel is used when the configuration names none.
const DefaultModel = "yolov8n.pt"

var catalog = map[string]Model{
	"yolov8n.pt": {File: "yolov8n.pt", Name: "YOLOv8 Nano", SizeMB: 6.2, Speed: "fastest", Accuracy: "good", MAP: 37.3, Description: "Real-time processing on CPU."},
	"yolov8s.pt": {File: "yolov8s.pt", Name: "YOLOv8 Small", SizeMB: 21.5, Speed: "fast", Accuracy: "better", MAP: 44.9, Description: "Best balance of speed and accuracy."},
	"yolov8m.pt": {File: "yolov8m.pt", Name: "YOLOv8 Medium", SizeMB: 49.7, Speed: "moderate", Accuracy: "high", MAP: 50.2, Description: "Offline analysis with higher accuracy."},
	"yolov8l.pt": {File: "yolov8l.pt", Name: "YOLOv8 Large", SizeMB: 83.7, Speed: "slow", Accuracy: "very high", MAP: 52.9, Description: "GPU recommended."},
	"yolov8x.pt": {File: "yolov8x.pt", Name: "YOLOv8 Extra Large", SizeMB: 130.5, Speed: "slowest", Accuracy: "highest", MAP: 53.9, Description: "Maximum accuracy, GPU required."},
}

var ErrUnknownModel = errors.New("unknown model")

// Catalog lists the known models, smallest first.
func Catalog() []Model {
	out := make([]Model, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SizeMB < out[j].SizeMB })
	return out
}

func Lookup(file string) (Model, error) {
	m, ok := catalog[filepath.Base(file)]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, file)
	}
	return m, nil
}

// Installed reports whether the weights for m exist in dir.
func Installed(dir string, m Model) bool {
	info, err := os.Stat(filepath.Join(dir, m.File))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// ProgressFunc receives bytes written so far and the expected total (-1 when unknown).
type ProgressFunc func(done, total int64)

// Downloader fetches weights over HTTP, retrying transient failures.
type Downloader struct {
	HTTP       *http.Client
	BaseURL    string
	MaxElapsed time.Duration
}

func NewDownloader() *Downloader {
	return &Downloader{
		HTTP:       &http.Client{Timeout: 30 * time.Minute},
		BaseURL:    releaseBase,
		MaxElapsed: 2 * time.Minute,
	}
}

// Download writes the weights for m into dir and returns the file path. An existing
// file is left untouched.
func (d *Downloader) Download(ctx context.Context, dir string, m Model, progress ProgressFunc) (string, error) {
	dest := filepath.Join(dir, m.File)
	if Installed(dir, m) {
		return dest, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure model dir: %w", err)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = d.MaxElapsed
	err := backoff.Retry(func() error {
		return d.fetch(ctx, d.BaseURL+m.File, dest, progress)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", m.File, err)
	}
	return dest, nil
}

func (d *Downloader) fetch(ctx context.Context, url, dest string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("server returned %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return backoff.Permanent(fmt.Errorf("server returned %s", resp.Status))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return backoff.Permanent(err)
	}
	defer os.Remove(tmp.Name())
	var src io.Reader = resp.Body
	if progress != nil {
		src = &progressReader{r: resp.Body, total: resp.ContentLength, fn: progress}
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return backoff.Permanent(err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return backoff.Permanent(err)
	}
	return nil
}

type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	p.fn(p.done, p.total)
	return n, err
}
