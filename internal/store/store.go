package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"driveguard/internal/model"
)

// Store is the persistence interface used by the API server, the job pipeline and the CLI.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// Organizations & users
	CreateOrganization(ctx context.Context, name string) (model.Organization, error)
	GetOrganization(ctx context.Context, id string) (model.Organization, error)
	GetOrganizationByName(ctx context.Context, name string) (model.Organization, error)
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	// Register creates an organization and its first user together; neither is
	// kept when the other fails.
	Register(ctx context.Context, orgName string, u model.User) (model.Organization, model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)

	// Videos
	CreateVideo(ctx context.Context, v model.Video) (model.Video, error)
	GetVideo(ctx context.Context, orgID, id string) (model.Video, error)
	FindVideoByFilename(ctx context.Context, orgID, filename string) (model.Video, error)
	ListVideos(ctx context.Context, orgID, cursor string, limit int) ([]model.Video, string, error)
	UpdateVideoStatus(ctx context.Context, id, status string, durationSeconds float64) error

	// Analyses (one per video)
	UpsertAnalysis(ctx context.Context, a model.VideoAnalysis) (model.VideoAnalysis, error)
	GetAnalysisByVideo(ctx context.Context, videoID string) (model.VideoAnalysis, error)
	Dashboard(ctx context.Context, orgID string) (model.Dashboard, error)

	// Drivers
	CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error)
	GetDriver(ctx context.Context, orgID, id string) (model.Driver, error)
	ListDrivers(ctx context.Context, orgID, cursor string, limit int) ([]model.Driver, string, error)
	PatchDriver(ctx context.Context, orgID, id string, patch model.DriverPatch) (model.Driver, error)
	DeleteDriver(ctx context.Context, orgID, id string) error

	// Vehicles
	CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error)
	GetVehicle(ctx context.Context, orgID, id string) (model.Vehicle, error)
	ListVehicles(ctx context.Context, orgID, cursor string, limit int) ([]model.Vehicle, string, error)
	PatchVehicle(ctx context.Context, orgID, id string, patch model.VehiclePatch) (model.Vehicle, error)
	DeleteVehicle(ctx context.Context, orgID, id string) error

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, orgID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, orgID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, orgID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, orgID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, orgID, status, cursor string, limit int) ([]WebhookDelivery, string, error)
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")

	// Register conflicts; both match ErrConflict.
	ErrEmailTaken        = fmt.Errorf("email %w", ErrConflict)
	ErrOrganizationTaken = fmt.Errorf("organization %w", ErrConflict)
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return defaultPageSize
	}
	return limit
}

// BuildDashboard folds an organization's analyses into its summary.
func BuildDashboard(videoCount int, analyses []model.VideoAnalysis) model.Dashboard {
	d := model.Dashboard{VideoCount: videoCount, Categories: map[string]int{}}
	var overall, speed float64
	for _, a := range analyses {
		d.AnalyzedCount++
		overall += float64(a.OverallScore)
		speed += a.AverageSpeedKmph
		if a.Category != "" {
			d.Categories[a.Category]++
		}
		d.CloseEncounters += a.CloseEncounters
		d.TrafficViolations += a.TrafficViolations
		d.BusLaneViolations += a.BusLaneViolations
		d.LaneChanges += a.LaneChanges
	}
	if d.AnalyzedCount > 0 {
		d.AverageOverall = roundTo(overall/float64(d.AnalyzedCount), 1)
		d.AverageSpeedKmph = roundTo(speed/float64(d.AnalyzedCount), 1)
	}
	return d
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
