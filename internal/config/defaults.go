package config

import "time"

const (
	defaultAddr            = ":8080"
	defaultMaxUploadMB     = 500
	defaultVideosDir       = "videos"
	defaultOutputDir       = "outputs/analysis"
	defaultCalibrationFile = "config/video_calibrations.json"
	defaultJSONPath        = "data/driveguard.json"
	defaultFFprobe         = "ffprobe"
	defaultDetectorModel   = "yolov8s.pt"
	defaultWorkers         = 2
	defaultQueueSize       = 16
	defaultTimeout         = 30 * time.Minute
	defaultJobTTL          = time.Hour
	defaultTokenTTL        = 24 * time.Hour
	defaultIssuer          = "driveguard"
	defaultWebhookAttempts = 10
)

// Default returns a Config populated with repository defaults.
// Auth defaults to dev mode so a fresh checkout runs without a secret.
func Default() Config {
	return Config{
		Server: Server{
			Addr:              defaultAddr,
			ReadHeaderTimeout: 5 * time.Second,
			MaxUploadMB:       defaultMaxUploadMB,
		},
		Storage: Storage{
			Driver:   StorageMemory,
			JSONPath: defaultJSONPath,
			Migrate:  true,
		},
		Paths: Paths{
			VideosDir:       defaultVideosDir,
			OutputDir:       defaultOutputDir,
			CalibrationFile: defaultCalibrationFile,
		},
		Analysis: Analysis{
			Mode:          ModeFeatures,
			Command:       []string{"python3", "analysis/extract_features.py"},
			FFprobe:       defaultFFprobe,
			Timeout:       defaultTimeout,
			Workers:       defaultWorkers,
			QueueSize:     defaultQueueSize,
			JobTTL:        defaultJobTTL,
			DetectorModel: defaultDetectorModel,
		},
		Auth: Auth{
			Mode:     AuthDev,
			TokenTTL: defaultTokenTTL,
			Issuer:   defaultIssuer,
		},
		Webhooks: Webhooks{
			Enabled:     true,
			MaxAttempts: defaultWebhookAttempts,
		},
		Log: Log{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}
