package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVideoFile(t *testing.T) {
	for _, name := range []string{"a.mp4", "B.MOV", "trip.Avi"} {
		assert.True(t, IsVideoFile(name), name)
	}
	for _, name := range []string{"a.mkv", "mp4", "notes.txt", ""} {
		assert.False(t, IsVideoFile(name), name)
	}
}

func TestListVideos(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.mp4", "a.MOV", "readme.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.mp4"), 0o755))

	got, err := ListVideos(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.MOV"), filepath.Join(dir, "b.mp4")}, got)

	_, err = ListVideos(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
