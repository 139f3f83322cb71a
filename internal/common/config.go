package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	API    APIConfig
	Batch  BatchConfig
	Ledger LedgerConfig
}

// APIConfig holds the remote batch endpoint configuration
type APIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Endpoint    string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// BatchConfig holds batch-job polling and output configuration
type BatchConfig struct {
	FastPollInterval  time.Duration
	SlowPollInterval  time.Duration
	FastPollCount     int
	EstimatedDuration time.Duration
	MaxPollDuration   time.Duration
	CompletionWindow  string
	OutputDir         string
}

// LedgerConfig holds the local job-ledger configuration
type LedgerConfig struct {
	Path string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     getEnv("TERMBATCH_BASE_URL", "https://open.bigmodel.cn/api/paas/v4"),
			APIKey:      getEnv("TERMBATCH_API_KEY", ""),
			Model:       getEnv("TERMBATCH_MODEL", "glm-4-flash"),
			Endpoint:    getEnv("TERMBATCH_ENDPOINT", "/v4/chat/completions"),
			Temperature: getEnvAsFloat32("TERMBATCH_TEMPERATURE", 0.3),
			MaxTokens:   getEnvAsInt("TERMBATCH_MAX_TOKENS", 2000),
			Timeout:     getEnvAsDuration("TERMBATCH_HTTP_TIMEOUT", 60*time.Second),
		},
		Batch: BatchConfig{
			FastPollInterval:  getEnvAsDuration("TERMBATCH_FAST_POLL", 5*time.Second),
			SlowPollInterval:  getEnvAsDuration("TERMBATCH_SLOW_POLL", 15*time.Second),
			FastPollCount:     getEnvAsInt("TERMBATCH_FAST_POLL_COUNT", 3),
			EstimatedDuration: getEnvAsDuration("TERMBATCH_ESTIMATED_DURATION", 5*time.Minute),
			MaxPollDuration:   getEnvAsDuration("TERMBATCH_MAX_POLL_DURATION", 24*time.Hour),
			CompletionWindow:  getEnv("TERMBATCH_COMPLETION_WINDOW", "24h"),
			OutputDir:         getEnv("TERMBATCH_OUTPUT_DIR", "results"),
		},
		Ledger: LedgerConfig{
			Path: getEnv("TERMBATCH_LEDGER_PATH", ""),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.API.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "TERMBATCH_API_KEY is required", ErrInvalidInput)
	}
	if c.API.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "TERMBATCH_BASE_URL is required", ErrInvalidInput)
	}
	if c.Batch.FastPollInterval <= 0 || c.Batch.SlowPollInterval <= 0 {
		return NewAppError("CONFIG_ERROR", "poll intervals must be positive", ErrInvalidInput)
	}
	if c.Batch.MaxPollDuration <= 0 {
		return NewAppError("CONFIG_ERROR", "TERMBATCH_MAX_POLL_DURATION must be positive", ErrInvalidInput)
	}
	return nil
}
