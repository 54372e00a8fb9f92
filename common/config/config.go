package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	UploadImageDir = "uploads/images"
	UploadVideoDir = "uploads/videos"
	ProcessedDir   = "processed"
	DefaultWebPort = 8080
)

// Settings holds the runtime configuration. Loaded once at startup; treated
// as read-only afterwards so it needs no lock.
type Settings struct {
	WebPort int `mapstructure:"web_port"`

	// Intake
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	JobWaitTimeout time.Duration `mapstructure:"job_wait_timeout"`

	// Frame sampling policy for video jobs
	FrameSampleInterval int `mapstructure:"frame_sample_interval"` // every Kth frame
	MaxSampledFrames    int `mapstructure:"max_sampled_frames"`    // hard bound per job
	TargetFrameRate     int `mapstructure:"target_frame_rate"`     // 0 = keep source fps

	// Detector
	DetectorURL     string        `mapstructure:"detector_url"`
	DetectorTimeout time.Duration `mapstructure:"detector_timeout"`
	MaxSkipFraction float64       `mapstructure:"max_skip_fraction"`
	MaxFrameEdge    int           `mapstructure:"max_frame_edge"` // downscale before detection
	MinConfidence   float64       `mapstructure:"min_confidence"`
	DetectorModel   string        `mapstructure:"detector_model"`

	// Workers
	WorkerCount int `mapstructure:"worker_count"`

	// Storage
	DatabasePath string `mapstructure:"database_path"`
	DataDir      string `mapstructure:"data_dir"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Alert notifier (external platform, optional)
	AlertPlatformURL string `mapstructure:"alert_platform_url"`
	AlertEnabled     bool   `mapstructure:"alert_enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("web_port", DefaultWebPort)
	v.SetDefault("max_upload_bytes", int64(200)<<20)
	v.SetDefault("job_wait_timeout", "10m")
	v.SetDefault("frame_sample_interval", 10)
	v.SetDefault("max_sampled_frames", 300)
	v.SetDefault("target_frame_rate", 0)
	v.SetDefault("detector_url", "http://localhost:8000/detect")
	v.SetDefault("detector_timeout", "30s")
	v.SetDefault("max_skip_fraction", 0.5)
	v.SetDefault("max_frame_edge", 1920)
	v.SetDefault("min_confidence", 0.25)
	v.SetDefault("detector_model", "person")
	v.SetDefault("worker_count", 2)
	v.SetDefault("database_path", "_data/crowd.db")
	v.SetDefault("data_dir", ".")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("alert_platform_url", "")
	v.SetDefault("alert_enabled", false)
}

// Load reads settings from the given config file (optional), CROWD_* env
// variables and built-in defaults, then validates them.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CROWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects nonsense settings at startup so the hot path can trust
// them unconditionally.
func (s *Settings) Validate() error {
	if s.WebPort <= 0 || s.WebPort > 65535 {
		return fmt.Errorf("web_port %d out of range", s.WebPort)
	}
	if s.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", s.MaxUploadBytes)
	}
	if s.FrameSampleInterval <= 0 {
		return fmt.Errorf("frame_sample_interval must be positive, got %d", s.FrameSampleInterval)
	}
	if s.MaxSampledFrames <= 0 {
		return fmt.Errorf("max_sampled_frames must be positive, got %d", s.MaxSampledFrames)
	}
	if s.TargetFrameRate < 0 || s.TargetFrameRate > 120 {
		return fmt.Errorf("target_frame_rate %d out of range (0-120)", s.TargetFrameRate)
	}
	if s.MaxSkipFraction < 0 || s.MaxSkipFraction > 1 {
		return fmt.Errorf("max_skip_fraction %.2f outside [0,1]", s.MaxSkipFraction)
	}
	if s.DetectorTimeout <= 0 {
		return fmt.Errorf("detector_timeout must be positive, got %v", s.DetectorTimeout)
	}
	if s.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be positive, got %d", s.WorkerCount)
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %.2f outside [0,1]", s.MinConfidence)
	}
	return nil
}
