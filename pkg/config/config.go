// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	ObjectStore   ObjectStoreConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	AllowedOrigins  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// ObjectStoreConfig holds S3-compatible object storage configuration
type ObjectStoreConfig struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// RedisConfig holds Redis configuration for rate limiting
type RedisConfig struct {
	Enabled    bool
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// AuthConfig holds JWT and password policy configuration
type AuthConfig struct {
	JWTSecret         string
	UserTokenTTL      time.Duration
	DeviceTokenTTL    time.Duration
	MinPasswordLength int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		ObjectStore:   loadObjectStoreConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CACOPHONY_HOST", "0.0.0.0"),
		Port:            getEnv("CACOPHONY_PORT", "1080"),
		ReadTimeout:     getEnvDuration("CACOPHONY_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("CACOPHONY_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("CACOPHONY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CACOPHONY_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxUploadBytes:  getEnvInt64("CACOPHONY_MAX_UPLOAD_BYTES", 200<<20),
		AllowedOrigins:  strings.Split(getEnv("CACOPHONY_ALLOWED_ORIGINS", "*"), ","),
		HealthPort:      getEnv("CACOPHONY_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("CACOPHONY_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("CACOPHONY_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("CACOPHONY_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("CACOPHONY_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		ConnectTimeout:  getEnvDuration("CACOPHONY_POSTGRES_TIMEOUT", 10*time.Second),
	}
}

func loadObjectStoreConfig() ObjectStoreConfig {
	return ObjectStoreConfig{
		Endpoint:     getEnv("CACOPHONY_S3_ENDPOINT", ""),
		Region:       getEnv("CACOPHONY_S3_REGION", "us-east-1"),
		Bucket:       getEnv("CACOPHONY_S3_BUCKET", "cacophony-recordings"),
		AccessKey:    getEnv("CACOPHONY_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("CACOPHONY_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("CACOPHONY_S3_USE_PATH_STYLE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:           getEnvBool("CACOPHONY_REDIS_ENABLED", false),
		URL:               getEnv("CACOPHONY_REDIS_URL", "localhost:6379"),
		Password:          getEnv("CACOPHONY_REDIS_PASSWORD", ""),
		DB:                getEnvInt("CACOPHONY_REDIS_DB", 0),
		MaxRetries:        getEnvInt("CACOPHONY_REDIS_MAX_RETRIES", 3),
		PoolSize:          getEnvInt("CACOPHONY_REDIS_POOL_SIZE", 10),
		RateLimitRequests: getEnvInt("CACOPHONY_RATE_LIMIT_REQUESTS", 600),
		RateLimitWindow:   getEnvDuration("CACOPHONY_RATE_LIMIT_WINDOW", time.Minute),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:         getEnv("CACOPHONY_JWT_SECRET", ""),
		UserTokenTTL:      getEnvDuration("CACOPHONY_USER_TOKEN_TTL", 24*time.Hour),
		DeviceTokenTTL:    getEnvDuration("CACOPHONY_DEVICE_TOKEN_TTL", 0),
		MinPasswordLength: getEnvInt("CACOPHONY_MIN_PASSWORD_LENGTH", 8),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("CACOPHONY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CACOPHONY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CACOPHONY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CACOPHONY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CACOPHONY_OTEL_SERVICE_NAME", "cacophony-api"),
		OTelServiceVersion: getEnv("CACOPHONY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CACOPHONY_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.MinPasswordLength < 8 {
		return fmt.Errorf("minimum password length must be at least 8")
	}

	if c.ObjectStore.Endpoint != "" && c.ObjectStore.Bucket == "" {
		return fmt.Errorf("S3 bucket is required when an S3 endpoint is configured")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
