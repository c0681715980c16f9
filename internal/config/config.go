// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/codehound/reviewhub/internal/logger"
)

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// EngineConfig holds the settings for the remote review engine and its
// telemetry side-channel.
type EngineConfig struct {
	BaseURL             string
	TelemetryURL        string
	ReviewAssistantID   string
	FeedbackAssistantID string
	Timeout             time.Duration
	FeedbackTimeout     time.Duration
	DefaultModel        string
}

// Config holds the application's configuration values.
type Config struct {
	ServerPort          string
	Log                 logger.Config
	Database            DBConfig
	Engine              EngineConfig
	JWTSecret           string
	GitHubWebhookSecret string
	MaxWorkers          int
	QueueSize           int
	ReaperInterval      time.Duration
	StuckJobThreshold   time.Duration
}

// Load reads configuration from environment variables and an optional .env
// file, sets sensible defaults, and validates required fields. Viper handles
// loading and precedence.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_OUTPUT", "stdout")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "reviewhub")
	v.SetDefault("DB_NAME", "reviewhub")
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "5m")
	v.SetDefault("ENGINE_TIMEOUT", "5m")
	v.SetDefault("ENGINE_FEEDBACK_TIMEOUT", "2m")
	v.SetDefault("ENGINE_DEFAULT_MODEL", "cerebras::llama-3.3-70b")
	v.SetDefault("MAX_WORKERS", 5)
	v.SetDefault("QUEUE_SIZE", 100)
	v.SetDefault("REAPER_INTERVAL", "1m")
	v.SetDefault("STUCK_JOB_THRESHOLD", "30m")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A missing .env file is fine; a broken one is not.
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if v.GetString("ENGINE_BASE_URL") == "" {
		return nil, fmt.Errorf("ENGINE_BASE_URL must be set")
	}
	if v.GetString("JWT_SECRET") == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	return &Config{
		ServerPort: v.GetString("SERVER_PORT"),
		Log: logger.Config{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
			Output: v.GetString("LOG_OUTPUT"),
		},
		Database: DBConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			Username:        v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Database:        v.GetString("DB_NAME"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("DB_CONN_MAX_IDLE_TIME"),
		},
		Engine: EngineConfig{
			BaseURL:             v.GetString("ENGINE_BASE_URL"),
			TelemetryURL:        v.GetString("ENGINE_TELEMETRY_URL"),
			ReviewAssistantID:   v.GetString("ENGINE_REVIEW_ASSISTANT_ID"),
			FeedbackAssistantID: v.GetString("ENGINE_FEEDBACK_ASSISTANT_ID"),
			Timeout:             v.GetDuration("ENGINE_TIMEOUT"),
			FeedbackTimeout:     v.GetDuration("ENGINE_FEEDBACK_TIMEOUT"),
			DefaultModel:        v.GetString("ENGINE_DEFAULT_MODEL"),
		},
		JWTSecret:           v.GetString("JWT_SECRET"),
		GitHubWebhookSecret: v.GetString("GITHUB_WEBHOOK_SECRET"),
		MaxWorkers:          v.GetInt("MAX_WORKERS"),
		QueueSize:           v.GetInt("QUEUE_SIZE"),
		ReaperInterval:      v.GetDuration("REAPER_INTERVAL"),
		StuckJobThreshold:   v.GetDuration("STUCK_JOB_THRESHOLD"),
	}, nil
}
