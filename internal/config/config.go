package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/your-org/gtm/internal/reid"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Tracking TrackingConfig `yaml:"tracking"`
	ReID     ReIDConfig     `yaml:"reid"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	// GTMWorkerURL is the base URL of the worker process hosting the
	// reid.Manager instance (e.g. "http://vision-worker:8082"), used by
	// the gin API to proxy /v1 GTM query routes. Empty disables them.
	GTMWorkerURL string `yaml:"gtm_worker_url"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig tunes the JetStream streams carrying frame tasks and
// association events between the ingestor, vision workers, and API.
type NATSConfig struct {
	URL string `yaml:"url"`
	// FrameStreamMaxAge bounds how long an unconsumed frame task is kept
	// before JetStream discards it. A stale frame is worthless once the
	// pipeline falls behind by more than this.
	FrameStreamMaxAge time.Duration `yaml:"frame_stream_max_age"`
	// FrameStreamMaxMsgs caps the FRAMES work queue depth.
	FrameStreamMaxMsgs int64 `yaml:"frame_stream_max_msgs"`
	// EventStreamMaxAge bounds retention of association events for
	// WebSocket/API replay.
	EventStreamMaxAge time.Duration `yaml:"event_stream_max_age"`
	// EventStreamMaxMsgs caps the EVENTS stream depth.
	EventStreamMaxMsgs int64 `yaml:"event_stream_max_msgs"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir            string  `yaml:"models_dir"`
	DetectionThreshold   float64 `yaml:"detection_threshold"`
	RecognitionThreshold float64 `yaml:"recognition_threshold"`
	DefaultFPS           int     `yaml:"default_fps"`
	MaxFPS               int     `yaml:"max_fps"`
	WorkerCount          int     `yaml:"worker_count"`
	FrameWidth           int     `yaml:"frame_width"`
	MinFaceSize          float64 `yaml:"min_face_size"`
	IntraOpThreads       int     `yaml:"intra_op_threads"`
	InterOpThreads       int     `yaml:"inter_op_threads"`
}

// TrackingConfig tunes the per-camera IoU tracker that assigns local_id
// ahead of the reid package's cross-camera association.
type TrackingConfig struct {
	MaxAge              int           `yaml:"max_age"`
	MinHits             int           `yaml:"min_hits"`
	ReRecognizeInterval time.Duration `yaml:"re_recognize_interval"`
}

// ReIDConfig mirrors reid.Config; kept as a distinct YAML-tagged struct so
// the on-disk config format doesn't leak the reid package's internal
// representation. ToReIDConfig translates this into a reid.Config.
type ReIDConfig struct {
	Threshold      float64 `yaml:"reid_threshold"`
	MaxHistory     int     `yaml:"max_history"`
	TrackTimeout   float64 `yaml:"track_timeout"`
	MinConfidence  float64 `yaml:"min_confidence"`
	RecentK        int     `yaml:"recent_k"`
	ScoreWeightMax float64 `yaml:"score_weight_max"`
	ScoreWeightAvg float64 `yaml:"score_weight_avg"`
	FeatureDim     int     `yaml:"feature_dim"`
	LatencyWindow  int     `yaml:"latency_window"`
}

// ToReIDConfig translates the on-disk representation into reid.Config.
func (c ReIDConfig) ToReIDConfig() reid.Config {
	return reid.Config{
		ReIDThreshold:  float32(c.Threshold),
		MaxHistory:     c.MaxHistory,
		TrackTimeout:   c.TrackTimeout,
		MinConfidence:  float32(c.MinConfidence),
		RecentK:        c.RecentK,
		ScoreWeightMax: float32(c.ScoreWeightMax),
		ScoreWeightAvg: float32(c.ScoreWeightAvg),
		FeatureDim:     c.FeatureDim,
		LatencyWindow:  c.LatencyWindow,
	}
}

// GTMWorkerURL returns the configured worker query endpoint.
func (c *Config) GTMWorkerURL() string {
	return c.Server.GTMWorkerURL
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DefaultFPS == 0 {
		cfg.Vision.DefaultFPS = 5
	}
	if cfg.Vision.MaxFPS == 0 {
		cfg.Vision.MaxFPS = 10
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 6
	}
	if cfg.Vision.FrameWidth == 0 {
		cfg.Vision.FrameWidth = 640
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.RecognitionThreshold == 0 {
		cfg.Vision.RecognitionThreshold = 0.4
	}
	if cfg.Vision.MinFaceSize == 0 {
		cfg.Vision.MinFaceSize = 20
	}
	if cfg.Tracking.MaxAge == 0 {
		cfg.Tracking.MaxAge = 30
	}
	if cfg.Tracking.MinHits == 0 {
		cfg.Tracking.MinHits = 3
	}
	if cfg.Tracking.ReRecognizeInterval == 0 {
		cfg.Tracking.ReRecognizeInterval = 3 * time.Second
	}
	if cfg.ReID.Threshold == 0 {
		cfg.ReID.Threshold = 0.75
	}
	if cfg.ReID.MaxHistory == 0 {
		cfg.ReID.MaxHistory = 100
	}
	if cfg.ReID.TrackTimeout == 0 {
		cfg.ReID.TrackTimeout = 30.0
	}
	if cfg.ReID.MinConfidence == 0 {
		cfg.ReID.MinConfidence = 0.5
	}
	if cfg.ReID.RecentK == 0 {
		cfg.ReID.RecentK = 10
	}
	if cfg.ReID.ScoreWeightMax == 0 && cfg.ReID.ScoreWeightAvg == 0 {
		cfg.ReID.ScoreWeightMax = 0.7
		cfg.ReID.ScoreWeightAvg = 0.3
	}
	if cfg.ReID.FeatureDim == 0 {
		cfg.ReID.FeatureDim = 256
	}
	if cfg.ReID.LatencyWindow == 0 {
		cfg.ReID.LatencyWindow = 1000
	}
	if cfg.NATS.FrameStreamMaxAge == 0 {
		cfg.NATS.FrameStreamMaxAge = 5 * time.Minute
	}
	if cfg.NATS.FrameStreamMaxMsgs == 0 {
		cfg.NATS.FrameStreamMaxMsgs = 100000
	}
	if cfg.NATS.EventStreamMaxAge == 0 {
		cfg.NATS.EventStreamMaxAge = 24 * time.Hour
	}
	if cfg.NATS.EventStreamMaxMsgs == 0 {
		cfg.NATS.EventStreamMaxMsgs = 1000000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GTM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GTM_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("GTM_WORKER_URL"); v != "" {
		cfg.Server.GTMWorkerURL = v
	}
	if v := os.Getenv("GTM_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("GTM_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("GTM_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("GTM_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("GTM_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("GTM_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("GTM_NATS_FRAME_STREAM_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NATS.FrameStreamMaxAge = d
		}
	}
	if v := os.Getenv("GTM_NATS_EVENT_STREAM_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NATS.EventStreamMaxAge = d
		}
	}
	if v := os.Getenv("GTM_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("GTM_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("GTM_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("GTM_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("GTM_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("GTM_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("GTM_REID_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ReID.Threshold = f
		}
	}
	if v := os.Getenv("GTM_REID_TRACK_TIMEOUT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ReID.TrackTimeout = f
		}
	}
}
