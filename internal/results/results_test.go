package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStem(t *testing.T) {
	assert.Equal(t, "clip", Stem("/videos/clip.MP4"))
	assert.Equal(t, "a.b", Stem("a.b.mov"))
}

func TestSaveWritesPerVideoAndMerged(t *testing.T) {
	s := New(t.TempDir())
	path, err := s.Save(context.Background(), "trip.mp4", map[string]any{"video_filename": "trip.mp4", "average_speed_kmph": 42.5})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "trip_analysis.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"average_speed_kmph\": 42.5")

	raw, err := s.ReadResult("trip.mp4")
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(raw))

	merged, err := s.ReadMerged()
	require.NoError(t, err)
	require.Contains(t, merged, "trip.mp4")
	assert.JSONEq(t, `{"video_filename":"trip.mp4","average_speed_kmph":42.5}`, string(merged["trip.mp4"]))
}

func TestReadMissing(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.ReadResult("none.mp4")
	assert.ErrorIs(t, err, ErrNotFound)
	merged, err := s.ReadMerged()
	require.NoError(t, err)
	assert.Empty(t, merged)
}

func TestRecordFailure(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.RecordFailure(context.Background(), "/in/bad.avi", errors.New("cannot open video")))
	merged, err := s.ReadMerged()
	require.NoError(t, err)
	var f Failure
	require.NoError(t, json.Unmarshal(merged["bad.avi"], &f))
	assert.Equal(t, Failure{Error: "cannot open video", Status: "failed"}, f)
}

func TestConcurrentMergedUpdates(t *testing.T) {
	dir := t.TempDir()
	a, b := New(dir), New(dir)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := a
			if i%2 == 1 {
				s = b
			}
			name := fmt.Sprintf("v%02d.mp4", i)
			assert.NoError(t, s.UpdateMerged(context.Background(), map[string]any{name: map[string]int{"n": i}}))
		}(i)
	}
	wg.Wait()
	merged, err := a.ReadMerged()
	require.NoError(t, err)
	assert.Len(t, merged, 20)
}

func TestReadMergedCorrupt(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, os.WriteFile(s.MergedPath(), []byte("{broken"), 0o644))
	_, err := s.ReadMerged()
	assert.Error(t, err)
	assert.Error(t, s.UpdateMerged(context.Background(), map[string]any{"x.mp4": 1}))
}
