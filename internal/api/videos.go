package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"driveguard/internal/jobs"
	"driveguard/internal/media"
	"driveguard/internal/model"
	"driveguard/internal/store"
)

const uploadField = "video"

type uploadResponse struct {
	Success  bool   `json:"success"`
	JobID    string `json:"jobId"`
	VideoID  string `json:"videoId"`
	Filename string `json:"filename"`
}

// uploadBase strips any client-side directories from an upload name.
func uploadBase(original string) string {
	return filepath.Base(strings.ReplaceAll(original, "\\", "/"))
}

// storedName prefixes the sanitized upload name with a millisecond timestamp.
func storedName(original string, now time.Time) string {
	base := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, uploadBase(original))
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + base
}

// UploadVideoHandler stores a multipart upload and queues its analysis.
func (s *Server) UploadVideoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	limit := s.Config.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the "+humanize.IBytes(uint64(limit))+" upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a video file")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no video file uploaded")
		return
	}
	defer file.Close()
	if !media.IsVideoFile(header.Filename) {
		writeError(w, http.StatusBadRequest, "unsupported file type; expected .mp4, .avi or .mov")
		return
	}

	ctx := r.Context()
	driverID := strings.TrimSpace(r.FormValue("driver_id"))
	vehicleID := strings.TrimSpace(r.FormValue("vehicle_id"))
	if driverID != "" {
		if _, err := s.Store.GetDriver(ctx, pr.OrgID, driverID); err != nil {
			writeError(w, http.StatusBadRequest, "unknown driver_id")
			return
		}
	}
	if vehicleID != "" {
		if _, err := s.Store.GetVehicle(ctx, pr.OrgID, vehicleID); err != nil {
			writeError(w, http.StatusBadRequest, "unknown vehicle_id")
			return
		}
	}

	name := storedName(header.Filename, time.Now())
	dest := filepath.Join(s.Config.Paths.VideosDir, name)
	size, err := saveUpload(file, dest)
	if err != nil {
		s.Logger.Error("save upload failed", zap.String("path", dest), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store video")
		return
	}

	video, err := s.Store.CreateVideo(ctx, model.Video{
		OrganizationID:   pr.OrgID,
		UploadedBy:       pr.UserID,
		DriverID:         driverID,
		VehicleID:        vehicleID,
		Filename:         name,
		OriginalFilename: uploadBase(header.Filename),
		StoragePath:      dest,
		SizeBytes:        size,
		Status:           model.VideoUploaded,
	})
	if err != nil {
		_ = os.Remove(dest)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, err := s.Jobs.Submit(model.Job{
		VideoID:          video.ID,
		OrganizationID:   pr.OrgID,
		Filename:         name,
		OriginalFilename: video.OriginalFilename,
		VideoPath:        dest,
	})
	if err != nil {
		_ = s.Store.UpdateVideoStatus(ctx, video.ID, model.VideoFailed, 0)
		status := http.StatusInternalServerError
		if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	s.Logger.Info("video uploaded",
		zap.String("job_id", job.ID),
		zap.String("video_id", video.ID),
		zap.String("filename", name),
		zap.String("size", humanize.IBytes(uint64(size))),
	)
	writeJSON(w, http.StatusAccepted, uploadResponse{Success: true, JobID: job.ID, VideoID: video.ID, Filename: name})
}

func saveUpload(src io.Reader, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	return n, nil
}

func (s *Server) VideosHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	cursor, limit := pageParams(r)
	items, next, err := s.Store.ListVideos(r.Context(), pr.OrgID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page[model.Video]{Success: true, Items: items, NextCursor: next})
}

// VideoByIDHandler serves /api/videos/{id} and /api/videos/{id}/analysis.
func (s *Server) VideoByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	id, rest := pathID(r.URL.Path, "/api/videos/")
	if id == "" || len(rest) > 1 || (len(rest) == 1 && rest[0] != "analysis") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	ctx := r.Context()
	video, err := s.Store.GetVideo(ctx, pr.OrgID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a, err := s.Store.GetAnalysisByVideo(ctx, video.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	found := err == nil
	if len(rest) == 1 {
		if !found {
			writeError(w, http.StatusNotFound, "video has no analysis yet")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "analysis": a})
		return
	}
	resp := map[string]any{"success": true, "video": video}
	if found {
		resp["analysis"] = a
	}
	writeJSON(w, http.StatusOK, resp)
}
