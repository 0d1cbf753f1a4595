package analysis

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestAnalyzeFlowOnlyClip(t *testing.T) {
	meta := Meta{Filename: "clip.mp4", FPS: 30, FrameCount: 300, Width: 1280, Height: 720}
	var samples []Sample
	for f := 0; f < 300; f += 3 {
		samples = append(samples, Sample{Frame: f, FlowPx: ptr(5.0)})
	}
	r := Analyze(meta, DefaultCalibration(), samples)

	assert.Equal(t, "clip.mp4", r.VideoFilename)
	assert.Equal(t, VideoMetadata{DurationSeconds: 10, FPS: 30, FrameCount: 300, Resolution: Resolution{1280, 720}}, r.VideoMetadata)
	assert.InDelta(t, 9.0, r.AverageSpeedKmph, 1e-9)
	assert.Equal(t, 0, r.SafetyViolation)
	assert.Equal(t, 100, r.DrivingScores.Overall)
	assert.Equal(t, CategoryExcellent, r.DrivingScores.Category)
	assert.Len(t, r.SpeedTimeline, 100)
}

func TestAnalyzeEmptyStream(t *testing.T) {
	r := Analyze(Meta{Filename: "x.avi", DurationSeconds: 3.456}, DefaultCalibration(), nil)
	assert.Equal(t, 3.46, r.VideoMetadata.DurationSeconds)
	assert.Equal(t, 0.0, r.AverageSpeedKmph)
	assert.Equal(t, 0, r.CloseEncounters.EventCount)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"video_filename", "video_metadata", "average_speed_kmph", "safety_violation",
		"traffic_signal_summary", "close_encounters", "turn_changes_orb", "lane_change_count",
		"illegal_way_bus_lane", "driving_scores"} {
		assert.Contains(t, doc, key)
	}
	assert.NotContains(t, doc, "speed_timeline")
}

func TestAccumulatorRedLightRaisesSafetyViolation(t *testing.T) {
	acc := NewAccumulator(Meta{Filename: "red.mov"}, DefaultCalibration())
	acc.SetMeta(Meta{FPS: 8, FrameCount: 40})
	for i := 0; i < 40; i++ {
		s := Sample{Frame: i, SpeedKmph: ptr(30.0), Signals: &Signals{}}
		if i >= 8 && i <= 23 {
			s.Signals.Red = 1
		}
		acc.Add(s)
	}
	assert.Equal(t, 40, acc.Samples())
	r := acc.Result()
	assert.Equal(t, "red.mov", r.VideoFilename)
	assert.Equal(t, 1, r.SafetyViolation)
	assert.Equal(t, 1, r.DrivingScores.MetricsUsed.TrafficViolations)
	assert.Equal(t, 60, r.DrivingScores.Compliance)
}

func TestDecodeResultRescores(t *testing.T) {
	doc := []byte(`{"video_filename":"a.mp4","close_encounters":{"close_encounters":[],"event_count":13},
		"traffic_signal_summary":{"violation":true,"traffic_violation_windows":[{"start_time":1,"end_time":2}]},
		"illegal_way_bus_lane":{"violation_detected":true,"violation_ranges":[{"start_time":1,"end_time":3}]},
		"lane_change_count":{"turn_count":37,"left":20,"right":17}}`)
	r, err := DecodeResult(doc)
	require.NoError(t, err)
	assert.Equal(t, 2, r.SafetyViolation)
	assert.Equal(t, 25, r.DrivingScores.Overall)
	assert.Equal(t, CategoryNeedsImprovement, r.DrivingScores.Category)

	_, err = DecodeResult([]byte("{"))
	assert.Error(t, err)
}

func TestDecodeResultAcceptsAnalyzerDocument(t *testing.T) {
	doc := []byte(`{
  "video_filename": "Dashcam004.mp4",
  "video_metadata": {"duration_seconds": 42.5, "fps": 29.97, "frame_count": 1274, "resolution": {"width": 1920, "height": 1080}},
  "average_speed_kmph": 37.42,
  "safety_violation": 1,
  "traffic_signal_summary": {"violations": [], "traffic_violation_windows": [{"start_time": 12.4, "end_time": 14.1}], "violation": true},
  "close_encounters": {"close_encounters": [
    {"start_time": 3.1, "end_time": 4.02, "peak_time": 3.6, "peak_score": 0.812, "where": "center", "max_box_height_norm": 0.41, "min_distance_m": 4.35, "ttc_sec": 1.2},
    {"start_time": 20.5, "end_time": 21.3, "peak_time": 20.9, "peak_score": 0.64, "where": "left", "max_box_height_norm": 0.33, "min_distance_m": 6.1, "ttc_sec": 0}
  ], "event_count": 2, "method": "enhanced_proximity_v2"},
  "turn_changes_orb": {"turn_count": 2, "left": 1, "right": 1},
  "lane_change_count": {"turn_count": 4, "left": 3, "right": 1},
  "illegal_way_bus_lane": {"violation_detected": false, "violation_ranges": []},
  "driving_scores": {
    "overall_score": 80, "safety_score": 84, "compliance_score": 60, "efficiency_score": 98,
    "category": "Good", "category_description": "Good performance with minor improvement opportunities", "category_color": "amber",
    "metrics_used": {"close_encounters": 2, "traffic_violations": 1, "bus_lane_violations": 0, "lane_changes": 4}
  }
}`)
	r, err := DecodeResult(doc)
	require.NoError(t, err)
	assert.Equal(t, "Dashcam004.mp4", r.VideoFilename)
	assert.Equal(t, 1274, r.VideoMetadata.FrameCount)
	assert.Equal(t, 1, r.SafetyViolation)
	assert.Len(t, r.CloseEncounters.Encounters, 2)
	assert.Equal(t, "center", r.CloseEncounters.Encounters[0].Where)
	assert.Equal(t, Metrics{CloseEncounters: 2, TrafficViolations: 1, LaneChanges: 4}, r.DrivingScores.MetricsUsed)
	assert.Equal(t, 80, r.DrivingScores.Overall)
	assert.Equal(t, 84, r.DrivingScores.Safety)
	assert.Equal(t, 60, r.DrivingScores.Compliance)
	assert.Equal(t, 98, r.DrivingScores.Efficiency)
	assert.Equal(t, CategoryGood, r.DrivingScores.Category)

	out, err := json.Marshal(r)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.EqualValues(t, 1, back["safety_violation"])
}

func TestLoadCalibrations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video_calibrations.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a.mp4":{"meters_per_pixel":0.08},"b.mp4":{"roi_top":0.5,"roi_bottom":0.95}}`), 0o644))

	cals, err := LoadCalibrations(path)
	require.NoError(t, err)
	assert.Equal(t, Calibration{MetersPerPixel: 0.08, ROITop: DefaultROITop, ROIBottom: DefaultROIBottom}, cals.For("a.mp4"))
	assert.Equal(t, 0.5, cals.For("b.mp4").ROITop)
	assert.Equal(t, DefaultCalibration(), cals.For("unknown.mp4"))
	assert.Equal(t, 0.08, cals.For("", "1700000000000-a.mp4", "a.mp4").MetersPerPixel)
	assert.Equal(t, DefaultCalibration(), cals.For())

	missing, err := LoadCalibrations(filepath.Join(dir, "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err = LoadCalibrations(path)
	assert.Error(t, err)
}
