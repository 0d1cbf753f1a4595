// Package results owns the on-disk analysis documents: one file per video plus the merged index.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// MergedFilename is the document mapping video filenames to their results.
	MergedFilename = "merged_output_analysis.json"
	resultSuffix   = "_analysis.json"
	lockFilename   = ".merged.lock"
	lockRetry      = 50 * time.Millisecond
)

// ErrNotFound is returned when no result document exists for a video.
var ErrNotFound = errors.New("result not found")

// Failure is the merged entry recorded for a video that could not be analyzed.
type Failure struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

func NewFailure(err error) Failure {
	return Failure{Error: err.Error(), Status: "failed"}
}

// Store reads and writes result documents under a single directory.
type Store struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

func New(dir string) *Store {
	return &Store{dir: dir, lock: flock.New(filepath.Join(dir, lockFilename))}
}

func (s *Store) Dir() string { return s.dir }

// Stem strips directories and the extension from a video filename.
func Stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ResultPath returns the per-video document path for filename.
func (s *Store) ResultPath(filename string) string {
	return filepath.Join(s.dir, Stem(filename)+resultSuffix)
}

func (s *Store) MergedPath() string {
	return filepath.Join(s.dir, MergedFilename)
}

// WriteResult writes doc as the per-video result for filename.
func (s *Store) WriteResult(filename string, doc any) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	path := s.ResultPath(filename)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ReadResult returns the raw per-video document for filename.
func (s *Store) ReadResult(filename string) (json.RawMessage, error) {
	data, err := os.ReadFile(s.ResultPath(filename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return data, nil
}

// ReadMerged returns the merged index. A missing file is an empty index.
func (s *Store) ReadMerged() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.MergedPath())
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read merged: %w", err)
	}
	out := map[string]json.RawMessage{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.MergedPath(), err)
	}
	return out, nil
}

// UpdateMerged sets the entries of updates in the merged index while holding the
// directory lock, so concurrent jobs and CLI runs never lose each other's writes.
func (s *Store) UpdateMerged(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure output dir: %w", err)
	}
	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquire merged lock: %w", err)
	}
	if !ok {
		return errors.New("acquire merged lock: not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()

	merged, err := s.ReadMerged()
	if err != nil {
		return err
	}
	for name, doc := range updates {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		merged[name] = raw
	}
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode merged: %w", err)
	}
	return writeFileAtomic(s.MergedPath(), data)
}

// Save writes the per-video document and records it in the merged index.
func (s *Store) Save(ctx context.Context, filename string, doc any) (string, error) {
	path, err := s.WriteResult(filename, doc)
	if err != nil {
		return "", err
	}
	if err := s.UpdateMerged(ctx, map[string]any{filepath.Base(filename): doc}); err != nil {
		return "", err
	}
	return path, nil
}

// RecordFailure stores a failure entry for filename in the merged index.
func (s *Store) RecordFailure(ctx context.Context, filename string, cause error) error {
	return s.UpdateMerged(ctx, map[string]any{filepath.Base(filename): NewFailure(cause)})
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
