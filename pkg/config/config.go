package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MedGemma MedGemmaConfig
	Telnyx   TelnyxConfig
	Pipeline PipelineConfig
	Dispatch DispatchConfig
	OTEL     OTELConfig
	Env      string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// MedGemmaConfig holds inference service configuration
type MedGemmaConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
	RateLimitRPM    int
	RateLimitBurst  int
}

// TelnyxConfig holds outbound messaging transport configuration
type TelnyxConfig struct {
	APIKey          string
	MessagingNumber string
	VoiceAppID      string
	Mock            bool
}

// PipelineConfig holds the imaging pipeline tuning knobs. The defaults are
// the documented values; they are the primary levers for segmentation and
// mesh-quality tuning, so they stay configurable rather than hardcoded.
type PipelineConfig struct {
	HounsfieldLower    float64
	HounsfieldUpper    float64
	MinComponentVoxels int
	ROIRadiusMM        float64
	MeshPaddingVoxels  int
	MeshSmoothingSigma float64
	MeshWorkers        int
	RunLockTTL         time.Duration
}

// DispatchConfig holds nudge dispatcher configuration
type DispatchConfig struct {
	BatchLimit   int
	Interval     time.Duration
	ClaimTimeout time.Duration
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "stonecare"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		MedGemma: MedGemmaConfig{
			BaseURL:         getEnv("MEDGEMMA_BASE_URL", "http://localhost:8501"),
			APIKey:          getEnv("MEDGEMMA_API_KEY", ""),
			Model:           getEnv("MEDGEMMA_MODEL", "medgemma-4b-it"),
			Timeout:         getEnvAsDuration("MEDGEMMA_TIMEOUT", 120*time.Second),
			MaxOutputTokens: getEnvAsInt("MEDGEMMA_MAX_OUTPUT_TOKENS", 1024),
			RateLimitRPM:    getEnvAsInt("MEDGEMMA_RATE_LIMIT_RPM", 30),
			RateLimitBurst:  getEnvAsInt("MEDGEMMA_RATE_LIMIT_BURST", 5),
		},
		Telnyx: TelnyxConfig{
			APIKey:          getEnv("TELNYX_API_KEY", ""),
			MessagingNumber: getEnv("TELNYX_MESSAGING_NUMBER", ""),
			VoiceAppID:      getEnv("TELNYX_VOICE_APP_ID", ""),
			Mock:            getEnvAsBool("TELNYX_MOCK", true),
		},
		Pipeline: PipelineConfig{
			HounsfieldLower:    getEnvAsFloat("PIPELINE_HU_LOWER", 250),
			HounsfieldUpper:    getEnvAsFloat("PIPELINE_HU_UPPER", 2000),
			MinComponentVoxels: getEnvAsInt("PIPELINE_MIN_COMPONENT_VOXELS", 20),
			ROIRadiusMM:        getEnvAsFloat("PIPELINE_ROI_RADIUS_MM", 6.0),
			MeshPaddingVoxels:  getEnvAsInt("PIPELINE_MESH_PADDING_VOXELS", 3),
			MeshSmoothingSigma: getEnvAsFloat("PIPELINE_MESH_SMOOTHING_SIGMA", 1.0),
			MeshWorkers:        getEnvAsInt("PIPELINE_MESH_WORKERS", 4),
			RunLockTTL:         getEnvAsDuration("PIPELINE_RUN_LOCK_TTL", 10*time.Minute),
		},
		Dispatch: DispatchConfig{
			BatchLimit:   getEnvAsInt("DISPATCH_BATCH_LIMIT", 50),
			Interval:     getEnvAsDuration("DISPATCH_INTERVAL", time.Minute),
			ClaimTimeout: getEnvAsDuration("DISPATCH_CLAIM_TIMEOUT", 5*time.Minute),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "stonecare"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
		Env: getEnv("APP_ENV", "development"),
	}, nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
