package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"argus-recorder-go/internal/models"
)

// Config is the merged runtime configuration: the recording plan from the
// YAML file plus the ops surface (port, logging, NATS) from the environment.
type Config struct {
	// Application
	Version    string
	RecorderID string
	Port       int
	LogLevel   string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// NATS event stream. Optional: an empty URL disables publishing entirely,
	// recording never depends on the broker.
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	NatsDrainTimeout   time.Duration // For graceful shutdown

	// Graceful Shutdown
	ShutdownTimeout time.Duration

	// Recording plan (from the YAML file)
	Cameras  []models.CameraConfig
	Rejected []RejectedCamera
	Policy   models.RecordingPolicy
	Tuning   models.CaptureTuning
}

// RejectedCamera is a camera entry that failed validation. Rejection is
// per-entry: the remaining cameras still record (the manager logs these).
type RejectedCamera struct {
	Name string
	Err  error
}

type fileConfig struct {
	Cameras   []cameraEntry    `yaml:"cameras"`
	Recording recordingSection `yaml:"recording"`
	FFmpeg    ffmpegSection    `yaml:"ffmpeg"`
}

type cameraEntry struct {
	Name      string `yaml:"name"`
	RTSPURL   string `yaml:"rtsp_url"`
	OutputDir string `yaml:"output_dir"`
}

// All recording knobs are whole seconds in the file, converted to durations
// once here so the rest of the code never multiplies by time.Second.
type recordingSection struct {
	SegmentDuration int `yaml:"segment_duration"`
	RetentionDays   int `yaml:"retention_days"`
	ReconnectDelay  int `yaml:"reconnect_delay"`
	MergeInterval   int `yaml:"merge_interval"`
	MergeDelay      int `yaml:"merge_delay"`
	StallMultiplier int `yaml:"stall_multiplier"`
	PollInterval    int `yaml:"poll_interval"`
	StopGrace       int `yaml:"stop_grace"`
	SweepInterval   int `yaml:"sweep_interval"`
}

type ffmpegSection struct {
	RTBufSize string `yaml:"rtbufsize"`
	Timeout   int    `yaml:"timeout"` // microseconds, passed to -timeout
}

func defaultFile() fileConfig {
	return fileConfig{
		Recording: recordingSection{
			SegmentDuration: 60,
			RetentionDays:   7,
			ReconnectDelay:  5,
			MergeInterval:   60,
			MergeDelay:      120,
			StallMultiplier: 3,
			PollInterval:    1,
			StopGrace:       5,
			SweepInterval:   3600,
		},
		FFmpeg: ffmpegSection{
			RTBufSize: "100M",
			Timeout:   5000000,
		},
	}
}

// Load reads the YAML config at path, applies environment overrides for the
// ops surface and validates the camera list. Invalid camera entries are
// skipped and reported in Rejected; zero usable cameras is an error.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded environment overrides from .env file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	file := defaultFile()
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	policy, err := file.Recording.policy()
	if err != nil {
		return nil, err
	}
	tuning, err := file.FFmpeg.tuning()
	if err != nil {
		return nil, err
	}

	cameras, rejected := splitCameras(file.Cameras)
	if len(cameras) == 0 {
		errs := make([]error, 0, len(rejected))
		for _, r := range rejected {
			errs = append(errs, r.Err)
		}
		if len(errs) == 0 {
			return nil, fmt.Errorf("no cameras configured in %s", path)
		}
		return nil, fmt.Errorf("no usable cameras in %s: %w", path, errors.Join(errs...))
	}

	return &Config{
		// Application
		Version:    getEnv("VERSION", "1.0.0"),
		RecorderID: getEnv("RECORDER_ID", "recorder-1"),
		Port:       getEnvInt("PORT", 8000),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		// Logdy (lightweight web log viewer)
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// NATS
		NatsURL:            getEnv("NATS_URL", ""),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		NatsDrainTimeout:   getEnvDuration("NATS_DRAIN_TIMEOUT", 5*time.Second),

		// Graceful Shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		Cameras:  cameras,
		Rejected: rejected,
		Policy:   policy,
		Tuning:   tuning,
	}, nil
}

func (r recordingSection) policy() (models.RecordingPolicy, error) {
	var zero models.RecordingPolicy
	if r.SegmentDuration <= 0 {
		return zero, errors.New("recording.segment_duration must be positive")
	}
	if r.RetentionDays <= 0 {
		return zero, errors.New("recording.retention_days must be positive")
	}
	if r.ReconnectDelay <= 0 {
		return zero, errors.New("recording.reconnect_delay must be positive")
	}
	if r.MergeInterval <= 0 {
		return zero, errors.New("recording.merge_interval must be positive")
	}
	if r.MergeDelay < 0 {
		return zero, errors.New("recording.merge_delay must not be negative")
	}
	if r.StallMultiplier < 1 {
		return zero, errors.New("recording.stall_multiplier must be at least 1")
	}
	if r.PollInterval <= 0 {
		return zero, errors.New("recording.poll_interval must be positive")
	}
	if r.StopGrace <= 0 {
		return zero, errors.New("recording.stop_grace must be positive")
	}
	if r.SweepInterval <= 0 {
		return zero, errors.New("recording.sweep_interval must be positive")
	}
	return models.RecordingPolicy{
		SegmentDuration: time.Duration(r.SegmentDuration) * time.Second,
		RetentionDays:   r.RetentionDays,
		ReconnectDelay:  time.Duration(r.ReconnectDelay) * time.Second,
		MergeInterval:   time.Duration(r.MergeInterval) * time.Second,
		MergeDelay:      time.Duration(r.MergeDelay) * time.Second,
		StallMultiplier: r.StallMultiplier,
		PollInterval:    time.Duration(r.PollInterval) * time.Second,
		StopGrace:       time.Duration(r.StopGrace) * time.Second,
		SweepInterval:   time.Duration(r.SweepInterval) * time.Second,
	}, nil
}

func (f ffmpegSection) tuning() (models.CaptureTuning, error) {
	var zero models.CaptureTuning
	if f.RTBufSize == "" {
		return zero, errors.New("ffmpeg.rtbufsize must not be empty")
	}
	if f.Timeout <= 0 {
		return zero, errors.New("ffmpeg.timeout must be positive")
	}
	return models.CaptureTuning{
		RTBufSize:    f.RTBufSize,
		TimeoutMicro: f.Timeout,
	}, nil
}

// splitCameras validates each entry independently so one bad camera never
// takes down the rest of the fleet.
func splitCameras(entries []cameraEntry) ([]models.CameraConfig, []RejectedCamera) {
	var (
		valid    []models.CameraConfig
		rejected []RejectedCamera
		seen     = make(map[string]bool, len(entries))
	)
	for i, e := range entries {
		cam, err := validateCamera(i, e, seen)
		if err != nil {
			rejected = append(rejected, RejectedCamera{Name: e.Name, Err: err})
			continue
		}
		seen[cam.Name] = true
		valid = append(valid, cam)
	}
	return valid, rejected
}

func validateCamera(idx int, e cameraEntry, seen map[string]bool) (models.CameraConfig, error) {
	var zero models.CameraConfig
	if e.Name == "" {
		return zero, fmt.Errorf("camera %d: missing name", idx)
	}
	if strings.ContainsAny(e.Name, `/\`) || e.Name == "." || e.Name == ".." {
		return zero, fmt.Errorf("camera %q: name must not contain path separators", e.Name)
	}
	if seen[e.Name] {
		return zero, fmt.Errorf("camera %q: duplicate name", e.Name)
	}
	if e.RTSPURL == "" {
		return zero, fmt.Errorf("camera %q: missing rtsp_url", e.Name)
	}
	if e.OutputDir == "" {
		return zero, fmt.Errorf("camera %q: missing output_dir", e.Name)
	}
	abs, err := filepath.Abs(e.OutputDir)
	if err != nil {
		return zero, fmt.Errorf("camera %q: resolve output_dir: %w", e.Name, err)
	}
	return models.CameraConfig{
		Name:      e.Name,
		RTSPURL:   e.RTSPURL,
		OutputDir: abs,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
