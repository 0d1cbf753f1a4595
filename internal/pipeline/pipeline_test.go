package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/analysis"
	"driveguard/internal/extractor"
	"driveguard/internal/model"
	"driveguard/internal/results"
	"driveguard/internal/store"
	"driveguard/internal/webhooks"
)

type fakeAnalyzer struct {
	result analysis.Result
	err    error
	meta   analysis.Meta
	calib  analysis.Calibration
}

func (f *fakeAnalyzer) Run(_ context.Context, _ string, meta analysis.Meta, calib analysis.Calibration, progress extractor.ProgressFunc) (analysis.Result, error) {
	f.meta = meta
	f.calib = calib
	if progress != nil {
		progress(0.5)
	}
	return f.result, f.err
}

type fixture struct {
	store    *store.Memory
	results  *results.Store
	pipeline *Pipeline
	analyzer *fakeAnalyzer
	org      model.Organization
	video    model.Video
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	org, err := s.CreateOrganization(ctx, "Fleet")
	require.NoError(t, err)
	video, err := s.CreateVideo(ctx, model.Video{OrganizationID: org.ID, Filename: "trip.mp4", StoragePath: "/videos/trip.mp4"})
	require.NoError(t, err)
	_, err = s.CreateSubscription(ctx, model.SubscriptionRequest{
		OrganizationID: org.ID,
		URL:            "http://hooks.example/driveguard",
		Events:         []string{model.EventAnalysisCompleted, model.EventAnalysisFailed},
	})
	require.NoError(t, err)

	res := results.New(t.TempDir())
	fa := &fakeAnalyzer{}
	p := &Pipeline{
		Store:    s,
		Results:  res,
		Analyzer: fa,
		Probe: func(context.Context, string) (analysis.Meta, error) {
			return analysis.Meta{FPS: 30, FrameCount: 900, Width: 1920, Height: 1080, DurationSeconds: 30}, nil
		},
		Webhooks: webhooks.NewPublisher(s, nil),
	}
	return &fixture{store: s, results: res, pipeline: p, analyzer: fa, org: org, video: video}
}

func (f *fixture) job() model.Job {
	return model.Job{ID: "job1", VideoID: f.video.ID, OrganizationID: f.org.ID, Filename: "trip.mp4", VideoPath: "/videos/trip.mp4"}
}

func sampleResult() analysis.Result {
	r := analysis.Result{
		VideoMetadata:   analysis.VideoMetadata{DurationSeconds: 30, FPS: 30, FrameCount: 900},
		CloseEncounters: analysis.EncounterSummary{Encounters: []analysis.Encounter{}, EventCount: 1},
		LaneChanges:     analysis.TurnSummary{TurnCount: 4, Left: 2, Right: 2},
		TrafficSignals: analysis.TrafficSummary{
			Violations: []analysis.TrafficViolation{},
			Windows:    []analysis.TimeRange{{StartTime: 1, EndTime: 2}},
			Violation:  true,
		},
		BusLane: analysis.BusLaneSummary{ViolationRanges: []analysis.TimeRange{}},
	}
	return r
}

func TestRunPersistsEverything(t *testing.T) {
	f := newFixture(t)
	f.analyzer.result = sampleResult()
	ctx := context.Background()

	var stages []string
	path, err := f.pipeline.Run(ctx, f.job(), func(stage string, progress int) {
		stages = append(stages, stage)
	})
	require.NoError(t, err)
	assert.Equal(t, f.results.ResultPath("trip.mp4"), path)
	assert.Equal(t, []string{"probing", "extracting", "extracting", "scoring", "saving"}, stages)
	assert.Equal(t, "trip.mp4", f.analyzer.meta.Filename)
	assert.Equal(t, 30.0, f.analyzer.meta.FPS)

	raw, err := f.results.ReadResult("trip.mp4")
	require.NoError(t, err)
	var doc analysis.Result
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "trip.mp4", doc.VideoFilename)
	assert.Equal(t, 84, doc.DrivingScores.Overall)
	assert.Equal(t, 1, doc.SafetyViolation)

	merged, err := f.results.ReadMerged()
	require.NoError(t, err)
	assert.Contains(t, merged, "trip.mp4")

	a, err := f.store.GetAnalysisByVideo(ctx, f.video.ID)
	require.NoError(t, err)
	assert.Equal(t, 84, a.OverallScore)
	assert.Equal(t, analysis.CategoryGood, a.Category)
	assert.Equal(t, 1, a.TrafficViolations)
	assert.Equal(t, 4, a.LaneChanges)

	v, err := f.store.GetVideo(ctx, f.org.ID, f.video.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VideoAnalyzed, v.Status)
	assert.Equal(t, 30.0, v.DurationSeconds)

	due, err := f.store.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, model.EventAnalysisCompleted, due[0].EventType)
}

func TestRunRecordsFailure(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = errors.New("cannot open video")
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, f.job(), func(string, int) {})
	require.Error(t, err)

	v, err := f.store.GetVideo(ctx, f.org.ID, f.video.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VideoFailed, v.Status)

	merged, err := f.results.ReadMerged()
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"cannot open video","status":"failed"}`, string(merged["trip.mp4"]))

	due, err := f.store.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, model.EventAnalysisFailed, due[0].EventType)
}

func TestRunContinuesWhenProbeFails(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Probe = func(context.Context, string) (analysis.Meta, error) { return analysis.Meta{}, errors.New("ffprobe missing") }
	f.analyzer.result = sampleResult()
	_, err := f.pipeline.Run(context.Background(), f.job(), func(string, int) {})
	require.NoError(t, err)
	assert.Equal(t, analysis.Meta{Filename: "trip.mp4"}, f.analyzer.meta)
}

func TestRunUsesCalibrationOfUploadedName(t *testing.T) {
	f := newFixture(t)
	f.analyzer.result = sampleResult()
	highway := analysis.Calibration{MetersPerPixel: 0.12, ROITop: 0.55, ROIBottom: 0.92}
	f.pipeline.Calibrations = analysis.Calibrations{"Dashcam004.mp4": highway}

	job := f.job()
	job.Filename = "1700000000000-Dashcam004.mp4"
	job.OriginalFilename = "Dashcam004.mp4"
	_, err := f.pipeline.Run(context.Background(), job, func(string, int) {})
	require.NoError(t, err)
	assert.Equal(t, highway, f.analyzer.calib)

	job.ID, job.OriginalFilename = "job2", "Other.mp4"
	_, err = f.pipeline.Run(context.Background(), job, func(string, int) {})
	require.NoError(t, err)
	assert.Equal(t, analysis.DefaultCalibration(), f.analyzer.calib)

	job.ID, job.Filename, job.OriginalFilename = "job3", "Dashcam004.mp4", ""
	_, err = f.pipeline.Run(context.Background(), job, func(string, int) {})
	require.NoError(t, err)
	assert.Equal(t, highway, f.analyzer.calib)
}

func TestSaveAnalysis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, video, err := f.pipeline.SaveAnalysis(ctx, f.org.ID, "trip.mp4", sampleResult())
	require.NoError(t, err)
	assert.Equal(t, f.video.ID, video.ID)
	assert.Equal(t, 84, res.DrivingScores.Overall)
	a, err := f.store.GetAnalysisByVideo(ctx, f.video.ID)
	require.NoError(t, err)
	assert.Equal(t, 84, a.OverallScore)

	_, video, err = f.pipeline.SaveAnalysis(ctx, f.org.ID, "unknown.mp4", sampleResult())
	require.NoError(t, err)
	require.NotEmpty(t, video.ID)
	assert.Equal(t, f.org.ID, video.OrganizationID)
	assert.Equal(t, model.VideoAnalyzed, video.Status)
	_, err = f.results.ReadResult("unknown.mp4")
	assert.NoError(t, err)
}

func TestSaveAnalysisRefusesAnotherOrganizationsVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.analyzer.result = sampleResult()
	_, err := f.pipeline.Run(ctx, f.job(), func(string, int) {})
	require.NoError(t, err)
	before, err := f.results.ReadResult("trip.mp4")
	require.NoError(t, err)

	other, err := f.store.CreateOrganization(ctx, "Rival")
	require.NoError(t, err)
	clean := analysis.Result{}
	_, _, err = f.pipeline.SaveAnalysis(ctx, other.ID, "trip.mp4", clean)
	assert.ErrorIs(t, err, ErrNotOwned)
	_, err = f.pipeline.Import(ctx, other.ID, "trip.mp4", clean)
	assert.ErrorIs(t, err, ErrNotOwned)

	after, err := f.results.ReadResult("trip.mp4")
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	a, err := f.store.GetAnalysisByVideo(ctx, f.video.ID)
	require.NoError(t, err)
	assert.Equal(t, 84, a.OverallScore)

	owned, err := f.pipeline.OwnedFilenames(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, owned)
	owned, err = f.pipeline.OwnedFilenames(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"trip.mp4": true}, owned)
}

func TestImportCreatesVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	video, err := f.pipeline.Import(ctx, f.org.ID, "new.avi", sampleResult())
	require.NoError(t, err)
	assert.Equal(t, model.VideoAnalyzed, video.Status)
	a, err := f.store.GetAnalysisByVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.CloseEncounters)

	again, err := f.pipeline.Import(ctx, f.org.ID, "new.avi", sampleResult())
	require.NoError(t, err)
	assert.Equal(t, video.ID, again.ID)
}

func TestToAnalysisKeepsRawMetrics(t *testing.T) {
	r := sampleResult()
	r.Rescore()
	a := ToAnalysis("v1", r)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(a.RawMetrics, &doc))
	assert.Contains(t, doc, "driving_scores")
	assert.Equal(t, "v1", a.VideoID)
}
