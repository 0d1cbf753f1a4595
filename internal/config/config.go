// Package config loads DriveGuard settings from a YAML file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageJSON     = "json"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Analyzer modes.
const (
	ModeFeatures = "features"
	ModeReport   = "report"
)

// Auth modes.
const (
	AuthJWT = "jwt"
	AuthDev = "dev"
)

// Server holds HTTP listener settings.
type Server struct {
	Addr              string        `yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxUploadMB       int64         `yaml:"max_upload_mb" validate:"gte=1"`
	AllowOrigins      []string      `yaml:"allow_origins"`
	RateRPS           float64       `yaml:"rate_rps" validate:"gte=0"`
	RateBurst         int           `yaml:"rate_burst" validate:"gte=0"`
	TrustedProxies    []string      `yaml:"trusted_proxies" validate:"dive,cidr|ip"`
}

// Storage selects the persistence backend.
type Storage struct {
	Driver   string `yaml:"driver" validate:"oneof=memory json postgres sqlite"`
	DSN      string `yaml:"dsn"`
	JSONPath string `yaml:"json_path"`
	Migrate  bool   `yaml:"migrate"`
}

// Paths contains on-disk locations for videos and analysis output.
type Paths struct {
	VideosDir       string `yaml:"videos_dir" validate:"required"`
	OutputDir       string `yaml:"output_dir" validate:"required"`
	CalibrationFile string `yaml:"calibration_file"`
}

// Analysis controls the extractor subprocess and the job pool.
type Analysis struct {
	Mode          string        `yaml:"mode" validate:"oneof=features report"`
	Command       []string      `yaml:"command"`
	FFprobe       string        `yaml:"ffprobe"`
	Timeout       time.Duration `yaml:"timeout"`
	Workers       int           `yaml:"workers" validate:"gte=1,lte=64"`
	QueueSize     int           `yaml:"queue_size" validate:"gte=1"`
	JobTTL        time.Duration `yaml:"job_ttl"`
	DetectorModel string        `yaml:"detector_model"`
}

// Auth controls token issuance and verification.
type Auth struct {
	Mode      string        `yaml:"mode" validate:"oneof=jwt dev"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Issuer    string        `yaml:"issuer"`
}

// Redis enables the Redis event broker when URL is set.
type Redis struct {
	URL string `yaml:"url"`
}

// Webhooks controls outbound analysis notifications.
type Webhooks struct {
	Enabled     bool `yaml:"enabled"`
	MaxAttempts int  `yaml:"max_attempts" validate:"gte=1"`
}

// Log holds logger settings.
type Log struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=console json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config is the root configuration document.
type Config struct {
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	Paths    Paths    `yaml:"paths"`
	Analysis Analysis `yaml:"analysis"`
	Auth     Auth     `yaml:"auth"`
	Redis    Redis    `yaml:"redis"`
	Webhooks Webhooks `yaml:"webhooks"`
	Log      Log      `yaml:"log"`

	path string
}

// Load reads the YAML file at path (when present), applies environment overrides and validates.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		cfg.path = path
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path returns the file the config was loaded from, if any.
func (c *Config) Path() string { return c.path }

// Save writes the config back to path as YAML.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.path
	}
	if path == "" {
		return errors.New("config save: no path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DSN = v
		if c.Storage.Driver == StorageMemory || c.Storage.Driver == "" {
			c.Storage.Driver = StoragePostgres
		}
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		c.Storage.Migrate = v != "false"
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("AUTH_MODE"); v != "" {
		c.Auth.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("ANALYZER_COMMAND"); v != "" {
		c.Analysis.Command = strings.Fields(v)
	}
	if v := os.Getenv("ALLOW_ORIGINS"); v != "" {
		c.Server.AllowOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		c.Server.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Server.RateRPS = f
		}
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.RateBurst = n
		}
	}
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Webhooks.MaxAttempts = n
		}
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validation failed for config: %w", err)
	}
	if c.Auth.Mode == AuthJWT && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is required in jwt mode")
	}
	switch c.Storage.Driver {
	case StoragePostgres, StorageSQLite:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	case StorageJSON:
		if strings.TrimSpace(c.Storage.JSONPath) == "" {
			return errors.New("storage.json_path is required for driver json")
		}
	}
	if c.Analysis.Mode != "" && len(c.Analysis.Command) == 0 {
		return errors.New("analysis.command must not be empty")
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 { return c.Server.MaxUploadMB << 20 }

// EnsureDirectories creates the video and output directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.VideosDir, c.Paths.OutputDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
