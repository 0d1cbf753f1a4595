// Package extractor runs the external feature extractor and turns its output into analysis results.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"driveguard/internal/analysis"
	"driveguard/internal/config"
)

var commandContext = exec.CommandContext

const (
	stderrTailBytes = 4096
	maxLineBytes    = 4 << 20
	waitDelay       = 5 * time.Second
)

// ProgressFunc receives extraction progress in [0,1].
type ProgressFunc func(fraction float64)

// Runner invokes the configured analyzer command for one video at a time.
type Runner struct {
	command []string
	mode    string
	model   string
}

func New(cfg config.Analysis) (*Runner, error) {
	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		return nil, errors.New("analyzer command required")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = config.ModeFeatures
	}
	if mode != config.ModeFeatures && mode != config.ModeReport {
		return nil, fmt.Errorf("unsupported analyzer mode %q", mode)
	}
	return &Runner{command: append([]string(nil), cfg.Command...), mode: mode, model: cfg.DetectorModel}, nil
}

// Mode returns the configured output mode.
func (r *Runner) Mode() string { return r.mode }

func (r *Runner) args(videoPath string, calib analysis.Calibration) ([]string, error) {
	cal, err := json.Marshal(calib)
	if err != nil {
		return nil, fmt.Errorf("encode calibration: %w", err)
	}
	args := append([]string(nil), r.command[1:]...)
	args = append(args, "--video", videoPath, "--calibration", string(cal))
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	return args, nil
}

// Run analyzes videoPath. meta seeds the clip metadata; the extractor may override it
// with its own meta record.
func (r *Runner) Run(ctx context.Context, videoPath string, meta analysis.Meta, calib analysis.Calibration, progress ProgressFunc) (analysis.Result, error) {
	if videoPath == "" {
		return analysis.Result{}, errors.New("video path required")
	}
	args, err := r.args(videoPath, calib)
	if err != nil {
		return analysis.Result{}, err
	}
	cmd := commandContext(ctx, r.command[0], args...) //nolint:gosec
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return analysis.Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return analysis.Result{}, fmt.Errorf("start analyzer: %w", err)
	}

	var (
		result  analysis.Result
		readErr error
	)
	if r.mode == config.ModeReport {
		result, readErr = readReport(stdout)
	} else {
		result, readErr = readFeatures(stdout, meta, calib, progress)
	}
	// drain so Wait does not block on a full pipe
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return analysis.Result{}, fmt.Errorf("analyzer interrupted: %w", ctxErr)
		}
		if tail := stderr.String(); tail != "" {
			return analysis.Result{}, fmt.Errorf("analyzer failed: %w: %s", err, tail)
		}
		return analysis.Result{}, fmt.Errorf("analyzer failed: %w", err)
	}
	if readErr != nil {
		return analysis.Result{}, readErr
	}
	if result.VideoFilename == "" {
		result.VideoFilename = meta.Filename
	}
	return result, nil
}

type record struct {
	Type string `json:"type"`
}

type progressRecord struct {
	Percent float64 `json:"percent"`
}

func readFeatures(r io.Reader, meta analysis.Meta, calib analysis.Calibration, progress ProgressFunc) (analysis.Result, error) {
	acc := analysis.NewAccumulator(meta, calib)
	total := meta.FrameCount
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		switch rec.Type {
		case "meta":
			var m analysis.Meta
			if err := json.Unmarshal(line, &m); err != nil {
				return analysis.Result{}, fmt.Errorf("decode meta record: %w", err)
			}
			acc.SetMeta(mergeMeta(meta, m))
			if m.FrameCount > 0 {
				total = m.FrameCount
			}
		case "frame":
			var s analysis.Sample
			if err := json.Unmarshal(line, &s); err != nil {
				return analysis.Result{}, fmt.Errorf("decode frame record: %w", err)
			}
			acc.Add(s)
			if progress != nil && total > 0 {
				progress(min(1, float64(s.Frame)/float64(total)))
			}
		case "progress":
			var p progressRecord
			if err := json.Unmarshal(line, &p); err == nil && progress != nil {
				progress(min(1, p.Percent/100))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return analysis.Result{}, fmt.Errorf("read analyzer output: %w", err)
	}
	return acc.Result(), nil
}

// mergeMeta keeps probed values the extractor left blank.
func mergeMeta(base, m analysis.Meta) analysis.Meta {
	if m.Filename == "" {
		m.Filename = base.Filename
	}
	if m.FPS == 0 {
		m.FPS = base.FPS
	}
	if m.FrameCount == 0 {
		m.FrameCount = base.FrameCount
	}
	if m.Width == 0 && m.Height == 0 {
		m.Width, m.Height = base.Width, base.Height
	}
	if m.DurationSeconds == 0 {
		m.DurationSeconds = base.DurationSeconds
	}
	return m
}

func readReport(r io.Reader) (analysis.Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("read analyzer output: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return analysis.Result{}, errors.New("analyzer produced no report")
	}
	return analysis.DecodeResult(data)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
