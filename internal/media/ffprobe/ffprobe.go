// Package ffprobe provides a typed wrapper around ffprobe JSON output for dashcam clips.
package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NBFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	return Parse(output)
}

// Parse decodes raw ffprobe JSON.
func Parse(data []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// VideoStream returns the first video stream.
func (r Result) VideoStream() (Stream, bool) {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			return stream, true
		}
	}
	return Stream{}, false
}

// DurationSeconds prefers the container duration and falls back to the video stream.
func (r Result) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d > 0 {
		return d
	}
	if s, ok := r.VideoStream(); ok {
		if d := parseFloat(s.Duration); d > 0 {
			return d
		}
	}
	return 0
}

// FPS returns the video frame rate, or 0 when unknown.
func (r Result) FPS() float64 {
	s, ok := r.VideoStream()
	if !ok {
		return 0
	}
	if fps := parseRate(s.AvgFrameRate); fps > 0 {
		return fps
	}
	return parseRate(s.RFrameRate)
}

// FrameCount uses nb_frames when reported and otherwise derives it from duration and fps.
func (r Result) FrameCount() int {
	if s, ok := r.VideoStream(); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(s.NBFrames)); err == nil && n > 0 {
			return n
		}
	}
	return int(math.Round(r.DurationSeconds() * r.FPS()))
}

// Resolution returns width and height of the video stream.
func (r Result) Resolution() (int, int) {
	s, _ := r.VideoStream()
	return s.Width, s.Height
}

// parseRate handles ffprobe's "30000/1001" fractions.
func parseRate(value string) float64 {
	value = strings.TrimSpace(value)
	if num, den, ok := strings.Cut(value, "/"); ok {
		n := parseFloat(num)
		d := parseFloat(den)
		if d == 0 || math.IsNaN(n) || math.IsNaN(d) {
			return 0
		}
		return n / d
	}
	if f := parseFloat(value); !math.IsNaN(f) {
		return f
	}
	return 0
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
