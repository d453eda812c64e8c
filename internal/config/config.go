package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"framediff-server/internal/analysis"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	LogLevel string `yaml:"log_level"`

	Server   ServerConfig   `yaml:"server"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg"`
}

type ServerConfig struct {
	Port              string   `yaml:"port"`
	UploadDir         string   `yaml:"upload_dir"`
	ResultsDir        string   `yaml:"results_dir"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type AnalysisConfig struct {
	FPS            float64 `yaml:"fps"`
	MinThreshold   float64 `yaml:"min_threshold"`
	PhotoThreshold float64 `yaml:"photo_threshold"`
	LeadInFrames   int     `yaml:"lead_in_frames"`
	HashWorkers    int     `yaml:"hash_workers"`
}

// Options returns the tunables handed to the analysis pipeline
func (a AnalysisConfig) Options() analysis.Options {
	return analysis.Options{
		FPS:            a.FPS,
		MinThreshold:   a.MinThreshold,
		PhotoThreshold: a.PhotoThreshold,
		LeadInFrames:   a.LeadInFrames,
	}
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	TimeZone string `yaml:"timezone"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	HashTTL  time.Duration `yaml:"hash_ttl"`
}

type FFmpegConfig struct {
	FFmpegPath  string        `yaml:"ffmpeg_path"`
	FFprobePath string        `yaml:"ffprobe_path"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Load builds the configuration from defaults, then the YAML file at path
// (or the first one found in the usual locations), then the environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if err := c.Analysis.Options().Validate(); err != nil {
		return fmt.Errorf("invalid analysis config: %w", err)
	}
	if c.Analysis.HashWorkers < 1 {
		return fmt.Errorf("invalid analysis config: hash workers must be at least 1, got %d", c.Analysis.HashWorkers)
	}
	if c.Server.UploadDir == "" || c.Server.ResultsDir == "" {
		return errors.New("invalid server config: upload and results directories are required")
	}
	if len(c.Server.AllowedExtensions) == 0 {
		return errors.New("invalid server config: no allowed extensions")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultConfig() *Config {
	opts := analysis.DefaultOptions()
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:              "8080",
			UploadDir:         "uploads",
			ResultsDir:        "results",
			AllowedExtensions: []string{"mp4", "mov", "avi"},
		},
		Analysis: AnalysisConfig{
			FPS:            opts.FPS,
			MinThreshold:   opts.MinThreshold,
			PhotoThreshold: opts.PhotoThreshold,
			LeadInFrames:   opts.LeadInFrames,
			HashWorkers:    4,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "framediff",
			Password: "framediff_dev_password",
			DBName:   "framediff",
			SSLMode:  "disable",
			TimeZone: "UTC",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			HashTTL: 7 * 24 * time.Hour,
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Timeout:     10 * time.Minute,
		},
	}
}

func (c *Config) applyEnv() error {
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)

	c.Server.Port = getEnvOrDefault("PORT", c.Server.Port)
	c.Server.UploadDir = getEnvOrDefault("UPLOAD_FOLDER", c.Server.UploadDir)
	c.Server.ResultsDir = getEnvOrDefault("RESULTS_FOLDER", c.Server.ResultsDir)
	if exts := os.Getenv("ALLOWED_EXTENSIONS"); exts != "" {
		c.Server.AllowedExtensions = splitList(exts)
	}

	var err error
	if c.Analysis.FPS, err = getEnvFloat("ANALYSIS_FPS", c.Analysis.FPS); err != nil {
		return err
	}
	if c.Analysis.MinThreshold, err = getEnvFloat("MIN_THRESHOLD", c.Analysis.MinThreshold); err != nil {
		return err
	}
	if c.Analysis.PhotoThreshold, err = getEnvFloat("PHOTO_THRESHOLD", c.Analysis.PhotoThreshold); err != nil {
		return err
	}
	if c.Analysis.LeadInFrames, err = getEnvInt("LEAD_IN_FRAMES", c.Analysis.LeadInFrames); err != nil {
		return err
	}
	if c.Analysis.HashWorkers, err = getEnvInt("HASH_WORKERS", c.Analysis.HashWorkers); err != nil {
		return err
	}

	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvOrDefault("DB_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnvOrDefault("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", c.Database.SSLMode)
	c.Database.TimeZone = getEnvOrDefault("DB_TIMEZONE", c.Database.TimeZone)

	c.Redis.Addr = getEnvOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}

	c.FFmpeg.FFmpegPath = getEnvOrDefault("FFMPEG_PATH", c.FFmpeg.FFmpegPath)
	c.FFmpeg.FFprobePath = getEnvOrDefault("FFPROBE_PATH", c.FFmpeg.FFprobePath)
	secs, err := getEnvInt("FFMPEG_TIMEOUT_SECS", int(c.FFmpeg.Timeout/time.Second))
	if err != nil {
		return err
	}
	c.FFmpeg.Timeout = time.Duration(secs) * time.Second

	return nil
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".framediff", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Helper function to get environment variable or default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, strings.TrimPrefix(part, "."))
		}
	}
	return out
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
