package ffprobe

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "streams": [
    {"index": 0, "codec_type": "audio", "codec_name": "aac"},
    {"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001", "nb_frames": "1798"}
  ],
  "format": {"filename": "drive.mp4", "duration": "60.000000", "size": "1000"}
}`

func TestResultHelpers(t *testing.T) {
	r, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.InDelta(t, 29.97, r.FPS(), 0.01)
	assert.Equal(t, 1798, r.FrameCount())
	assert.Equal(t, 60.0, r.DurationSeconds())
	w, h := r.Resolution()
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestFrameCountDerivedFromDuration(t *testing.T) {
	r := Result{
		Streams: []Stream{{CodecType: "video", RFrameRate: "25/1", AvgFrameRate: "0/0"}},
		Format:  Format{Duration: "10"},
	}
	assert.Equal(t, 25.0, r.FPS())
	assert.Equal(t, 250, r.FrameCount())
}

func TestHelpersHandleMissingVideo(t *testing.T) {
	r := Result{Format: Format{Duration: "bad"}}
	assert.Zero(t, r.FPS())
	assert.Zero(t, r.FrameCount())
	assert.Zero(t, r.DurationSeconds())
	_, ok := r.VideoStream()
	assert.False(t, ok)
}

func TestParseRate(t *testing.T) {
	assert.Equal(t, 30.0, parseRate("30/1"))
	assert.Equal(t, 0.0, parseRate("1/0"))
	assert.Equal(t, 24.0, parseRate("24"))
	assert.Equal(t, 0.0, parseRate("x"))
}

func TestInspectRunsBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(sample), 0o644))
	script := filepath.Join(dir, "ffprobe")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat "+jsonPath+"\n"), 0o755))

	r, err := Inspect(context.Background(), script, "drive.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1798, r.FrameCount())

	_, err = Inspect(context.Background(), script, " ")
	assert.Error(t, err)
}

func TestInspectReportsFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	script := filepath.Join(t.TempDir(), "ffprobe")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'no such file' >&2\nexit 1\n"), 0o755))
	_, err := Inspect(context.Background(), script, "missing.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")
}
