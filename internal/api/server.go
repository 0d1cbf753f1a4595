// Package api implements the DriveGuard HTTP API.
package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"driveguard/internal/auth"
	"driveguard/internal/config"
	"driveguard/internal/events"
	"driveguard/internal/jobs"
	"driveguard/internal/logging"
	"driveguard/internal/metrics"
	"driveguard/internal/pipeline"
	"driveguard/internal/results"
	"driveguard/internal/store"
)

const defaultOpenAPIPath = "openapi/openapi.yaml"

// Server carries the dependencies shared by every handler.
type Server struct {
	Config   config.Config
	Store    store.Store
	Results  *results.Store
	Jobs     *jobs.Manager
	Pipeline *pipeline.Pipeline
	Auth     *auth.Verifier
	Broker   events.Broker
	Logger   *zap.Logger

	// OpenAPIPath is read on every docs request.
	OpenAPIPath string

	validate *validator.Validate
	limiter  *clientLimiter
	proxies  []*net.IPNet
}

func NewServer(cfg config.Config, st store.Store, res *results.Store, jm *jobs.Manager, p *pipeline.Pipeline, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Config:      cfg,
		Store:       st,
		Results:     res,
		Jobs:        jm,
		Pipeline:    p,
		Auth:        auth.NewVerifier(cfg.Auth),
		Broker:      jm.Broker(),
		Logger:      logger,
		OpenAPIPath: defaultOpenAPIPath,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		limiter:     newClientLimiter(cfg.Server.RateRPS, cfg.Server.RateBurst),
		proxies:     parseProxies(cfg.Server.TrustedProxies),
	}
}

// Routes registers every endpoint and wraps the mux in the middleware chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Accounts
	mux.HandleFunc("/api/register", s.RegisterHandler)
	mux.HandleFunc("/api/login", s.LoginHandler)
	mux.HandleFunc("/api/organization", s.OrganizationHandler)

	// Upload, jobs and results
	mux.HandleFunc("/api/upload-video", s.UploadVideoHandler)
	mux.HandleFunc("/api/status/", s.StatusHandler)
	mux.HandleFunc("/api/results/", s.ResultsHandler)
	mux.HandleFunc("/api/jobs", s.JobsHandler)
	mux.HandleFunc("/api/jobs/", s.JobByIDHandler) // includes /events and /ws

	// Analyses
	mux.HandleFunc("/api/merged-analysis", s.MergedAnalysisHandler)
	mux.HandleFunc("/api/save-analysis", s.SaveAnalysisHandler)
	mux.HandleFunc("/api/score", s.ScoreHandler)
	mux.HandleFunc("/api/dashboard", s.DashboardHandler)

	// Fleet
	mux.HandleFunc("/api/videos", s.VideosHandler)
	mux.HandleFunc("/api/videos/", s.VideoByIDHandler)
	mux.HandleFunc("/api/drivers", s.DriversHandler)
	mux.HandleFunc("/api/drivers/", s.DriverByIDHandler)
	mux.HandleFunc("/api/vehicles", s.VehiclesHandler)
	mux.HandleFunc("/api/vehicles/", s.VehicleByIDHandler)

	// Webhooks
	mux.HandleFunc("/api/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/api/subscriptions/", s.SubscriptionByIDHandler)
	mux.HandleFunc("/api/admin/webhook-deliveries", s.WebhookDeliveriesHandler)

	// Ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	mux.HandleFunc("/docs/console", s.SwaggerHandler)

	var h http.Handler = mux
	h = s.rateLimit(h)
	h = s.cors(h)
	h = metrics.Middleware(routeLabel, h)
	h = logging.Middleware(s.Logger, h)
	return h
}

var idCollections = map[string]bool{
	"status": true, "results": true, "jobs": true, "videos": true,
	"drivers": true, "vehicles": true, "subscriptions": true,
}

// routeLabel replaces path IDs with a placeholder for metric labels.
func routeLabel(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if idCollections[parts[i-1]] && parts[i] != "" {
			parts[i] = "{id}"
		}
	}
	return "/" + strings.Join(parts, "/")
}
