package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	AdminEmail string
	LogLevel   string
	Wikis      WikisConfig
	Storage    StorageConfig
	Ingestion  IngestionConfig
	Notify     NotifyConfig
	Server     ServerConfig
}

// WikisConfig locates the wikis document. A local file wins over S3.
type WikisConfig struct {
	File   string
	Bucket string
	Key    string
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Region           string
	S3Endpoint       string // Custom endpoint for local testing
	StatusTable      string // Empty keeps run status in memory
	DynamoDBEndpoint string
}

// IngestionConfig holds archival pass configuration
type IngestionConfig struct {
	Timeout  time.Duration
	Schedule string
}

// NotifyConfig holds webhook notification configuration
type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is read first if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	timeout := getEnvDuration("API_TIMEOUT", 30*time.Second)
	cfg := &Config{
		AdminEmail: getEnv("ADMIN_EMAIL", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Wikis: WikisConfig{
			File:   getEnv("CONFIG_FILE", ""),
			Bucket: getEnv("CONFIG_BUCKET", ""),
			Key:    getEnv("CONFIG_KEY", ""),
		},
		Storage: StorageConfig{
			Region:           getEnv("AWS_REGION", "us-west-2"),
			S3Endpoint:       getEnv("S3_ENDPOINT", ""),
			StatusTable:      getEnv("STATUS_TABLE", ""),
			DynamoDBEndpoint: getEnv("DYNAMODB_ENDPOINT", ""),
		},
		Ingestion: IngestionConfig{
			Timeout:  timeout,
			Schedule: getEnv("SCHEDULE", "@every 15m"),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("DISCORD_WEBHOOK", ""),
			Timeout:    timeout,
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
	}

	return cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.AdminEmail == "" {
		return errors.New("ADMIN_EMAIL is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

// Validate checks that the wikis document can be located.
func (w WikisConfig) Validate() error {
	if w.File == "" && (w.Bucket == "" || w.Key == "") {
		return errors.New("either CONFIG_FILE or both CONFIG_BUCKET and CONFIG_KEY are required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
