package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"driveguard/internal/analysis"
	"driveguard/internal/pipeline"
)

type saveAnalysisRequest struct {
	VideoFilename string          `json:"video_filename"`
	Analysis      json.RawMessage `json:"analysis"`
}

// MergedAnalysisHandler returns the entries of merged_output_analysis.json whose
// filenames belong to the caller's organization, as filename → result.
func (s *Server) MergedAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	merged, err := s.Results.ReadMerged()
	if err != nil {
		s.Logger.Error("read merged analysis failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read merged analysis")
		return
	}
	owned, err := s.Pipeline.OwnedFilenames(r.Context(), pr.OrgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for name := range merged {
		if !owned[name] {
			delete(merged, name)
		}
	}
	writeJSON(w, http.StatusOK, merged)
}

// SaveAnalysisHandler rescores a posted result and persists it everywhere it lives.
func (s *Server) SaveAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	var req saveAnalysisRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.VideoFilename = strings.TrimSpace(req.VideoFilename)
	if req.VideoFilename == "" || strings.ContainsAny(req.VideoFilename, `/\`) {
		writeError(w, http.StatusBadRequest, "video_filename is required")
		return
	}
	if len(req.Analysis) == 0 || string(req.Analysis) == "null" {
		writeError(w, http.StatusBadRequest, "analysis is required")
		return
	}
	res, err := analysis.DecodeResult(req.Analysis)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis: "+err.Error())
		return
	}
	res, video, err := s.Pipeline.SaveAnalysis(r.Context(), pr.OrgID, req.VideoFilename, res)
	if errors.Is(err, pipeline.ErrNotOwned) {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		s.Logger.Error("save analysis failed", zap.String("filename", req.VideoFilename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": req.VideoFilename,
		"analysis": res,
		"videoId":  video.ID,
	})
}

// ScoreHandler computes driving scores from posted event counts.
func (s *Server) ScoreHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	var m analysis.Metrics
	if err := decodeJSON(w, r, &m); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if m.CloseEncounters < 0 || m.TrafficViolations < 0 || m.BusLaneViolations < 0 || m.LaneChanges < 0 {
		writeError(w, http.StatusBadRequest, "counts must not be negative")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "driving_scores": analysis.Score(m)})
}

func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	d, err := s.Store.Dashboard(r.Context(), pr.OrgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "dashboard": d})
}
