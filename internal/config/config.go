// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Tool settings
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Storage settings
	ArtifactDir string `env:"ARTIFACT_DIR" json:"artifact_dir,omitempty"`
	TempDir     string `env:"TEMP_DIR, default=/tmp/clipforge" json:"temp_dir"`

	// Processing settings
	MaxConcurrentStitches int `env:"MAX_CONCURRENT_STITCHES, default=2" json:"max_concurrent_stitches"`

	// Loader settings
	LoadMaxAttempts  int    `env:"LOAD_MAX_ATTEMPTS, default=3" json:"load_max_attempts"`
	LoadBaseDelayMS  int    `env:"LOAD_BASE_DELAY_MS, default=250" json:"load_base_delay_ms"`
	LoadReadyTimeout string `env:"LOAD_READY_TIMEOUT, default=75s" json:"load_ready_timeout"`

	// Default stitch settings, used when a request leaves them unset
	DefaultWidth     int     `env:"DEFAULT_WIDTH, default=1280" json:"default_width"`
	DefaultHeight    int     `env:"DEFAULT_HEIGHT, default=720" json:"default_height"`
	DefaultFPS       int     `env:"DEFAULT_FPS, default=30" json:"default_fps"`
	DefaultCrossfade float64 `env:"DEFAULT_CROSSFADE_SECONDS, default=0.5" json:"default_crossfade_seconds"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, FFmpegPath: %s, ArtifactDir: %s, TempDir: %s, LoadMaxAttempts: %d, DefaultWidth: %d, DefaultHeight: %d, DefaultFPS: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.FFmpegPath,
		c.ArtifactDir,
		c.TempDir,
		c.LoadMaxAttempts,
		c.DefaultWidth,
		c.DefaultHeight,
		c.DefaultFPS,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
