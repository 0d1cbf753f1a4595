package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/analysis"
	"driveguard/internal/store"
)

const reportJSON = `{"video_filename":"x.mp4","close_encounters":{"close_encounters":[],"event_count":1},
 "traffic_signal_summary":{"violation":true,"traffic_violation_windows":[{"start_time":1,"end_time":2}]},
 "lane_change_count":{"turn_count":4,"left":2,"right":2}}`

type cliTestEnv struct {
	base       string
	configPath string
	videosDir  string
	outputDir  string
	dbPath     string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	env := &cliTestEnv{
		base:       base,
		configPath: filepath.Join(base, "config.yaml"),
		videosDir:  filepath.Join(base, "videos"),
		outputDir:  filepath.Join(base, "outputs"),
		dbPath:     filepath.Join(base, "db.json"),
	}
	script := filepath.Join(base, "analyzer.sh")
	body := "#!/bin/sh\ncase \"$2\" in *bad*) echo 'decode error' >&2; exit 2;; esac\ncat <<'JSON'\n" + reportJSON + "\nJSON\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	cfg := strings.Join([]string{
		"paths:",
		"  videos_dir: " + env.videosDir,
		"  output_dir: " + env.outputDir,
		`  calibration_file: ""`,
		"storage:",
		"  driver: json",
		"  json_path: " + env.dbPath,
		"analysis:",
		"  mode: report",
		"  command: [" + script + "]",
		"  ffprobe: " + filepath.Join(base, "missing-ffprobe"),
		"log:",
		"  level: error",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))
	require.NoError(t, os.MkdirAll(env.videosDir, 0o755))
	return env
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (e *cliTestEnv) addVideo(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.videosDir, name)
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o644))
	return path
}

func TestScoreCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := env.run(t, "score", "--close-encounters", "4", "--lane-changes", "10", "--json")
	require.NoError(t, err)
	var ds analysis.DrivingScores
	require.NoError(t, json.Unmarshal([]byte(out), &ds))
	assert.Equal(t, 83, ds.Overall)
	assert.Equal(t, 68, ds.Safety)
	assert.Equal(t, 95, ds.Efficiency)
	assert.Equal(t, analysis.CategoryGood, ds.Category)

	_, _, err = env.run(t, "score", "--lane-changes", "-1")
	assert.Error(t, err)
}

func TestAnalyzeCommandWritesResult(t *testing.T) {
	env := setupCLITestEnv(t)
	path := env.addVideo(t, "trip.mp4")

	out, _, err := env.run(t, "analyze", path, "--json")
	require.NoError(t, err)
	var res analysis.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "trip.mp4", res.VideoFilename)
	assert.Equal(t, 84, res.DrivingScores.Overall)

	_, err = os.Stat(filepath.Join(env.outputDir, "trip_analysis.json"))
	assert.NoError(t, err)

	_, _, err = env.run(t, "analyze", filepath.Join(env.base, "notes.txt"))
	assert.Error(t, err)
}

func TestBatchThenBackfill(t *testing.T) {
	env := setupCLITestEnv(t)
	env.addVideo(t, "a.mp4")
	env.addVideo(t, "bad.mov")

	out, _, err := env.run(t, "batch")
	require.NoError(t, err)
	assert.Contains(t, out, "1 analyzed, 1 failed")

	data, err := os.ReadFile(filepath.Join(env.outputDir, "merged_output_analysis.json"))
	require.NoError(t, err)
	var merged map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &merged))
	require.Contains(t, merged, "a.mp4")
	require.Contains(t, merged, "bad.mov")
	assert.Equal(t, "failed", merged["bad.mov"]["status"])

	out, _, err = env.run(t, "backfill", "--org-name", "fleet")
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 2 entries imported")

	st, err := store.OpenJSONFile(env.dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	org, err := st.GetOrganizationByName(ctx, "fleet")
	require.NoError(t, err)
	video, err := st.FindVideoByFilename(ctx, org.ID, "a.mp4")
	require.NoError(t, err)
	a, err := st.GetAnalysisByVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, 84, a.OverallScore)

	// a second run updates in place
	_, _, err = env.run(t, "backfill", "--org-id", org.ID)
	require.NoError(t, err)
	st, err = store.OpenJSONFile(env.dbPath)
	require.NoError(t, err)
	videos, _, err := st.ListVideos(ctx, org.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, videos, 1)
}

func TestBackfillRequiresOneOrganizationFlag(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := env.run(t, "backfill")
	assert.Error(t, err)
	_, _, err = env.run(t, "backfill", "--org-id", "o1", "--org-name", "fleet")
	assert.Error(t, err)
}

func TestModelsUsePersistsSelection(t *testing.T) {
	env := setupCLITestEnv(t)
	modelDir := filepath.Join(env.base, "models")

	_, _, err := env.run(t, "models", "use", "yolov8m.pt", "--dir", modelDir)
	require.Error(t, err)

	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "yolov8m.pt"), []byte("w"), 0o644))
	out, _, err := env.run(t, "models", "use", "yolov8m.pt", "--dir", modelDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Active model set to yolov8m.pt")

	out, _, err = env.run(t, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Active model: yolov8m.pt")
	assert.Contains(t, out, "weights in "+modelDir)

	_, _, err = env.run(t, "models", "use", "resnet50.pt", "--force")
	assert.Error(t, err)
}
