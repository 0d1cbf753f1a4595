package model

import (
	"encoding/json"
	"time"
)

// Roles carried on users and tokens.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	PasswordHash   string    `json:"-"`
	OrganizationID string    `json:"organization_id"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=6"`
	Name             string `json:"name" validate:"required"`
	OrganizationName string `json:"organization_name,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Video statuses.
const (
	VideoUploaded   = "uploaded"
	VideoProcessing = "processing"
	VideoAnalyzed   = "analyzed"
	VideoFailed     = "failed"
)

type Video struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organization_id"`
	UploadedBy       string    `json:"uploaded_by,omitempty"`
	DriverID         string    `json:"driver_id,omitempty"`
	VehicleID        string    `json:"vehicle_id,omitempty"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename,omitempty"`
	StoragePath      string    `json:"storage_path"`
	SizeBytes        int64     `json:"size_bytes"`
	DurationSeconds  float64   `json:"duration_seconds,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// VideoAnalysis is the persisted summary of one analysis result; RawMetrics holds the full document.
type VideoAnalysis struct {
	ID                string          `json:"id"`
	VideoID           string          `json:"video_id"`
	OverallScore      int             `json:"overall_score"`
	SafetyScore       int             `json:"safety_score"`
	ComplianceScore   int             `json:"compliance_score"`
	EfficiencyScore   int             `json:"efficiency_score"`
	Category          string          `json:"category"`
	AverageSpeedKmph  float64         `json:"average_speed_kmph"`
	CloseEncounters   int             `json:"close_encounters"`
	TrafficViolations int             `json:"traffic_violations"`
	BusLaneViolations int             `json:"bus_lane_violations"`
	LaneChanges       int             `json:"lane_changes"`
	TurnCount         int             `json:"turn_count"`
	RawMetrics        json.RawMessage `json:"raw_metrics,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Driver struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	LicenseNumber  string    `json:"license_number,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DriverPatch carries optional updates; nil fields are left alone.
type DriverPatch struct {
	Name          *string `json:"name,omitempty"`
	LicenseNumber *string `json:"license_number,omitempty"`
	Phone         *string `json:"phone,omitempty"`
}

type Vehicle struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	PlateNumber    string    `json:"plate_number"`
	Make           string    `json:"make,omitempty"`
	Model          string    `json:"model,omitempty"`
	Year           int       `json:"year,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type VehiclePatch struct {
	PlateNumber *string `json:"plate_number,omitempty"`
	Make        *string `json:"make,omitempty"`
	Model       *string `json:"model,omitempty"`
	Year        *int    `json:"year,omitempty"`
}

// Job statuses.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

// Job is a snapshot of one background analysis.
type Job struct {
	ID               string     `json:"id"`
	VideoID          string     `json:"video_id,omitempty"`
	OrganizationID   string     `json:"organization_id,omitempty"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"original_filename,omitempty"`
	VideoPath        string     `json:"-"`
	Status           string     `json:"status"`
	Stage            string     `json:"stage,omitempty"`
	Progress         int        `json:"progress"`
	Error            string     `json:"error,omitempty"`
	ResultPath       string     `json:"result_path,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job can no longer change.
func (j Job) Terminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// JobEvent is published on every job transition.
type JobEvent struct {
	Type string `json:"type"`
	Job  Job    `json:"job"`
}

// Webhook event types.
const (
	EventAnalysisCompleted = "analysis.completed"
	EventAnalysisFailed    = "analysis.failed"
)

type SubscriptionRequest struct {
	OrganizationID string   `json:"-"`
	URL            string   `json:"url" validate:"required,url"`
	Events         []string `json:"events" validate:"required,min=1,dive,oneof=analysis.completed analysis.failed"`
	Secret         string   `json:"secret"`
}

type Subscription struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	URL            string    `json:"url"`
	Events         []string  `json:"events"`
	Secret         string    `json:"secret,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Dashboard aggregates analyses for one organization.
type Dashboard struct {
	VideoCount        int            `json:"video_count"`
	AnalyzedCount     int            `json:"analyzed_count"`
	AverageOverall    float64        `json:"average_overall_score"`
	AverageSpeedKmph  float64        `json:"average_speed_kmph"`
	Categories        map[string]int `json:"categories"`
	CloseEncounters   int            `json:"close_encounters"`
	TrafficViolations int            `json:"traffic_violations"`
	BusLaneViolations int            `json:"bus_lane_violations"`
	LaneChanges       int            `json:"lane_changes"`
}
