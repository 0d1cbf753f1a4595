package api

import (
	"net/http"
	"time"

	"driveguard/internal/buildinfo"
)

// DebugJSON reports build info and a secret-free summary of the running configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"addr":             c.Server.Addr,
			"auth_mode":        c.Auth.Mode,
			"allow_origins":    c.Server.AllowOrigins,
			"rate_rps":         c.Server.RateRPS,
			"rate_burst":       c.Server.RateBurst,
			"trusted_proxies":  c.Server.TrustedProxies,
			"storage_driver":   c.Storage.Driver,
			"has_storage_dsn":  c.Storage.DSN != "",
			"has_redis_url":    c.Redis.URL != "",
			"analysis_mode":    c.Analysis.Mode,
			"analysis_workers": c.Analysis.Workers,
			"analysis_queue":   c.Analysis.QueueSize,
			"detector_model":   c.Analysis.DetectorModel,
			"webhooks_enabled": c.Webhooks.Enabled,
			"webhook_attempts": c.Webhooks.MaxAttempts,
			"max_upload_bytes": c.MaxUploadBytes(),
			"videos_dir":       c.Paths.VideosDir,
			"output_dir":       c.Paths.OutputDir,
		},
		"jobs": map[string]any{"tracked": len(s.Jobs.List())},
	}
	writeJSON(w, http.StatusOK, info)
}
