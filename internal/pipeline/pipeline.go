// Package pipeline runs one analysis job end to end and persists what it produces.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"driveguard/internal/analysis"
	"driveguard/internal/extractor"
	"driveguard/internal/jobs"
	"driveguard/internal/media/ffprobe"
	"driveguard/internal/model"
	"driveguard/internal/results"
	"driveguard/internal/store"
	"driveguard/internal/webhooks"
)

// Analyzer produces a result for one video file.
type Analyzer interface {
	Run(ctx context.Context, videoPath string, meta analysis.Meta, calib analysis.Calibration, progress extractor.ProgressFunc) (analysis.Result, error)
}

// Prober reads container metadata for a video file.
type Prober func(ctx context.Context, path string) (analysis.Meta, error)

// FFprobe returns a Prober backed by the ffprobe binary.
func FFprobe(binary string) Prober {
	return func(ctx context.Context, path string) (analysis.Meta, error) {
		res, err := ffprobe.Inspect(ctx, binary, path)
		if err != nil {
			return analysis.Meta{}, err
		}
		w, h := res.Resolution()
		return analysis.Meta{
			Filename:        filepath.Base(path),
			FPS:             res.FPS(),
			FrameCount:      res.FrameCount(),
			Width:           w,
			Height:          h,
			DurationSeconds: res.DurationSeconds(),
		}, nil
	}
}

type Pipeline struct {
	Store        store.Store
	Results      *results.Store
	Analyzer     Analyzer
	Probe        Prober
	Calibrations analysis.Calibrations
	Webhooks     *webhooks.Publisher
	Logger       *zap.Logger
}

// Run satisfies jobs.RunFunc.
func (p *Pipeline) Run(ctx context.Context, job model.Job, report jobs.Reporter) (string, error) {
	logger := p.logger().With(zap.String("job_id", job.ID), zap.String("filename", job.Filename))
	res, err := p.analyze(ctx, job, report, logger)
	if err != nil {
		p.fail(ctx, job, err, logger)
		return "", err
	}

	report(jobs.StageSaving, 95)
	path, err := p.Results.Save(ctx, job.Filename, res)
	if err != nil {
		err = fmt.Errorf("save result: %w", err)
		p.fail(ctx, job, err, logger)
		return "", err
	}
	if job.VideoID != "" {
		if _, err := p.Store.UpsertAnalysis(ctx, ToAnalysis(job.VideoID, res)); err != nil {
			err = fmt.Errorf("store analysis: %w", err)
			p.fail(ctx, job, err, logger)
			return "", err
		}
		if err := p.Store.UpdateVideoStatus(ctx, job.VideoID, model.VideoAnalyzed, res.VideoMetadata.DurationSeconds); err != nil {
			logger.Warn("update video status failed", zap.Error(err))
		}
	}
	p.emit(ctx, job, model.EventAnalysisCompleted, map[string]any{
		"job_id":         job.ID,
		"video_id":       job.VideoID,
		"video_filename": job.Filename,
		"driving_scores": res.DrivingScores,
	}, logger)
	logger.Info("analysis saved",
		zap.String("path", path),
		zap.Int("overall_score", res.DrivingScores.Overall),
		zap.String("category", res.DrivingScores.Category),
	)
	return path, nil
}

func (p *Pipeline) analyze(ctx context.Context, job model.Job, report jobs.Reporter, logger *zap.Logger) (analysis.Result, error) {
	report(jobs.StageProbing, 10)
	meta := analysis.Meta{Filename: job.Filename}
	if p.Probe != nil {
		probed, err := p.Probe(ctx, job.VideoPath)
		if err != nil {
			// the extractor can still report its own metadata
			logger.Warn("ffprobe failed", zap.Error(err))
		} else {
			probed.Filename = job.Filename
			meta = probed
		}
	}
	if job.VideoID != "" {
		if err := p.Store.UpdateVideoStatus(ctx, job.VideoID, model.VideoProcessing, meta.DurationSeconds); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("update video status failed", zap.Error(err))
		}
	}

	report(jobs.StageExtracting, 20)
	res, err := p.Analyzer.Run(ctx, job.VideoPath, meta, p.Calibrations.For(job.OriginalFilename, job.Filename), func(f float64) {
		report(jobs.StageExtracting, 20+int(f*60))
	})
	if err != nil {
		return analysis.Result{}, err
	}

	report(jobs.StageScoring, 85)
	res.VideoFilename = job.Filename
	res.Rescore()
	return res, nil
}

// fail records the failure everywhere the success path would have written.
func (p *Pipeline) fail(ctx context.Context, job model.Job, cause error, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	if job.VideoID != "" {
		if err := p.Store.UpdateVideoStatus(ctx, job.VideoID, model.VideoFailed, 0); err != nil {
			logger.Warn("update video status failed", zap.Error(err))
		}
	}
	if err := p.Results.RecordFailure(ctx, job.Filename, cause); err != nil {
		logger.Warn("record failure failed", zap.Error(err))
	}
	p.emit(ctx, job, model.EventAnalysisFailed, map[string]any{
		"job_id":         job.ID,
		"video_id":       job.VideoID,
		"video_filename": job.Filename,
		"error":          cause.Error(),
	}, logger)
}

func (p *Pipeline) emit(ctx context.Context, job model.Job, event string, data map[string]any, logger *zap.Logger) {
	if p.Webhooks == nil || job.OrganizationID == "" {
		return
	}
	if _, err := p.Webhooks.Emit(ctx, job.OrganizationID, event, data); err != nil {
		logger.Warn("emit webhook failed", zap.String("event", event), zap.Error(err))
	}
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// ToAnalysis flattens a result into the persisted analysis row.
func ToAnalysis(videoID string, res analysis.Result) model.VideoAnalysis {
	raw, _ := json.Marshal(res)
	m := res.Metrics()
	s := res.DrivingScores
	return model.VideoAnalysis{
		VideoID:           videoID,
		OverallScore:      s.Overall,
		SafetyScore:       s.Safety,
		ComplianceScore:   s.Compliance,
		EfficiencyScore:   s.Efficiency,
		Category:          s.Category,
		AverageSpeedKmph:  res.AverageSpeedKmph,
		CloseEncounters:   m.CloseEncounters,
		TrafficViolations: m.TrafficViolations,
		BusLaneViolations: m.BusLaneViolations,
		LaneChanges:       m.LaneChanges,
		TurnCount:         res.Turns.TurnCount,
		RawMetrics:        raw,
	}
}

// ErrNotOwned is returned when a filename's video belongs to another organization.
// Result documents are keyed by filename only, so writing one would overwrite theirs.
var ErrNotOwned = errors.New("video belongs to another organization")

// ownedVideo resolves filename within orgID. found is false when no organization
// has a video by that name.
func (p *Pipeline) ownedVideo(ctx context.Context, orgID, filename string) (model.Video, bool, error) {
	video, err := p.Store.FindVideoByFilename(ctx, orgID, filename)
	if err == nil {
		return video, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Video{}, false, err
	}
	_, err = p.Store.FindVideoByFilename(ctx, "", filename)
	switch {
	case err == nil:
		return model.Video{}, false, ErrNotOwned
	case errors.Is(err, store.ErrNotFound):
		return model.Video{}, false, nil
	default:
		return model.Video{}, false, err
	}
}

// record upserts the analysis row for res, creating the organization's video row
// when it has none.
func (p *Pipeline) record(ctx context.Context, orgID, filename string, video model.Video, found bool, res analysis.Result) (model.Video, error) {
	var err error
	if !found {
		video, err = p.Store.CreateVideo(ctx, model.Video{
			OrganizationID:  orgID,
			Filename:        filename,
			DurationSeconds: res.VideoMetadata.DurationSeconds,
			Status:          model.VideoAnalyzed,
		})
		if err != nil {
			return model.Video{}, err
		}
	}
	if _, err := p.Store.UpsertAnalysis(ctx, ToAnalysis(video.ID, res)); err != nil {
		return model.Video{}, fmt.Errorf("store analysis: %w", err)
	}
	if video.Status != model.VideoAnalyzed {
		if err := p.Store.UpdateVideoStatus(ctx, video.ID, model.VideoAnalyzed, res.VideoMetadata.DurationSeconds); err != nil {
			return model.Video{}, err
		}
		video.Status = model.VideoAnalyzed
	}
	return video, nil
}

// SaveAnalysis rescores res, writes its documents and upserts the analysis row of
// the organization's video with that filename, creating the video when no
// organization has one. A filename owned by another organization is refused with
// ErrNotOwned before any file is touched.
func (p *Pipeline) SaveAnalysis(ctx context.Context, orgID, filename string, res analysis.Result) (analysis.Result, model.Video, error) {
	video, found, err := p.ownedVideo(ctx, orgID, filename)
	if err != nil {
		return analysis.Result{}, model.Video{}, err
	}
	res.VideoFilename = filename
	res.Rescore()
	if _, err := p.Results.Save(ctx, filename, res); err != nil {
		return analysis.Result{}, model.Video{}, fmt.Errorf("save result: %w", err)
	}
	video, err = p.record(ctx, orgID, filename, video, found, res)
	if err != nil {
		return analysis.Result{}, model.Video{}, err
	}
	return res, video, nil
}

// Import records an existing result for filename, creating the video row when the
// organization has none. Used by backfill.
func (p *Pipeline) Import(ctx context.Context, orgID, filename string, res analysis.Result) (model.Video, error) {
	video, found, err := p.ownedVideo(ctx, orgID, filename)
	if err != nil {
		return model.Video{}, err
	}
	res.VideoFilename = filename
	res.Rescore()
	return p.record(ctx, orgID, filename, video, found, res)
}

// OwnedFilenames returns the filenames of every video orgID owns.
func (p *Pipeline) OwnedFilenames(ctx context.Context, orgID string) (map[string]bool, error) {
	owned := map[string]bool{}
	cursor := ""
	for {
		videos, next, err := p.Store.ListVideos(ctx, orgID, cursor, 500)
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			owned[v.Filename] = true
		}
		if next == "" {
			return owned, nil
		}
		cursor = next
	}
}
