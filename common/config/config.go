package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/capstack/origination/common/ratelimit"
)

// Config holds all service configuration
type Config struct {
	Service    ServiceConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Extraction ExtractionConfig
	Sync       SyncConfig
	Autofill   AutofillConfig
	RateLimit  RateLimitConfig
	Telemetry  TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// ExtractionConfig holds settings for the document extraction service
type ExtractionConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// SyncConfig holds resume synchronization settings
type SyncConfig struct {
	// SuppressionWindow bounds how long an incoming change event is
	// treated as the echo of our own just-completed write.
	SuppressionWindow time.Duration
	// Reload retry schedule for reads that race replica propagation.
	ReloadMaxAttempts int
	ReloadBaseDelay   time.Duration
	ReloadMaxDelay    time.Duration
}

// AutofillConfig holds autofill job queue settings
type AutofillConfig struct {
	Stream string
	Group  string
	// JobTTL bounds the in-flight guard key so a crashed worker cannot
	// wedge a resume's autofill forever.
	JobTTL time.Duration
}

// RateLimitConfig holds request rate limiting settings
type RateLimitConfig struct {
	Enabled bool
	Limits  ratelimit.Limits
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables.
// A local .env file, when present, is applied first.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	limits := ratelimit.DefaultLimits()
	limits.GlobalPerMinute = int64(getEnvInt("RATE_LIMIT_GLOBAL_PER_MINUTE", int(limits.GlobalPerMinute)))
	limits.SavesPerActorPerMinute = int64(getEnvInt("RATE_LIMIT_SAVES_PER_ACTOR_PER_MINUTE", int(limits.SavesPerActorPerMinute)))
	limits.AutofillPerResumePerHour = int64(getEnvInt("RATE_LIMIT_AUTOFILL_PER_RESUME_PER_HOUR", int(limits.AutofillPerResumePerHour)))

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "origination"),
			User:        getEnv("POSTGRES_USER", "origination"),
			Password:    getEnv("POSTGRES_PASSWORD", "origination"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
		},
		Extraction: ExtractionConfig{
			URL:     getEnv("EXTRACTION_URL", "http://localhost:9200"),
			APIKey:  getEnv("EXTRACTION_API_KEY", ""),
			Timeout: getEnvDuration("EXTRACTION_TIMEOUT", 60*time.Second),
		},
		Sync: SyncConfig{
			SuppressionWindow: getEnvDuration("SYNC_SUPPRESSION_WINDOW", 2*time.Second),
			ReloadMaxAttempts: getEnvInt("SYNC_RELOAD_MAX_ATTEMPTS", 4),
			ReloadBaseDelay:   getEnvDuration("SYNC_RELOAD_BASE_DELAY", 250*time.Millisecond),
			ReloadMaxDelay:    getEnvDuration("SYNC_RELOAD_MAX_DELAY", 2*time.Second),
		},
		Autofill: AutofillConfig{
			Stream: getEnv("AUTOFILL_STREAM", "resume.autofill.jobs"),
			Group:  getEnv("AUTOFILL_GROUP", "autofill_workers"),
			JobTTL: getEnvDuration("AUTOFILL_JOB_TTL", 2*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			Limits:  limits,
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Sync.SuppressionWindow <= 0 {
		return fmt.Errorf("suppression window must be positive")
	}

	if c.Sync.ReloadMaxAttempts < 1 {
		return fmt.Errorf("reload max attempts must be >= 1")
	}

	if c.Extraction.Timeout <= 0 {
		return fmt.Errorf("extraction timeout must be positive")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Limits.GlobalPerMinute < 1 ||
			c.RateLimit.Limits.SavesPerActorPerMinute < 1 ||
			c.RateLimit.Limits.AutofillPerResumePerHour < 1 {
			return fmt.Errorf("rate limits must be >= 1 when rate limiting is enabled")
		}
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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
