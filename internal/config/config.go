package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "HotelLoyalty"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultStatusCacheTTL   = 30 * time.Second
	defaultMaxPageSize      = 100
	defaultPageSize         = 20
	defaultMinPoints        = 1
	defaultAdminRatePerMin  = 60
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	statusCacheTTLEnvVar    = "STATUS_CACHE_TTL"
	maxPageSizeEnvVar       = "HISTORY_MAX_PAGE_SIZE"
	defaultPageSizeEnvVar   = "HISTORY_DEFAULT_PAGE_SIZE"
	minPointIncrementEnvVar = "MIN_POINT_INCREMENT"
	adminRateEnvVar         = "ADMIN_RATE_LIMIT_PER_MIN"
	migrateEnvVar           = "MIGRATE_ON_START"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	DatabaseURL       string
	RedisURL          string
	ShutdownPeriod    time.Duration
	IdempotencyTTL    time.Duration
	StatusCacheTTL    time.Duration
	MaxPageSize       int
	DefaultPageSize   int
	MinPointIncrement int64
	AdminTokenHash    string
	AdminRatePerMin   int
	MigrateOnStart    bool
	OTLPEndpoint      string
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is read first when present;
// real environment variables win over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		StatusCacheTTL: defaultStatusCacheTTL,
		AdminTokenHash: os.Getenv("ADMIN_TOKEN_HASH"),
		MigrateOnStart: true,
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(statusCacheTTLEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", statusCacheTTLEnvVar, err)
		}
		cfg.StatusCacheTTL = d
	}

	if cfg.MaxPageSize, err = getInt(maxPageSizeEnvVar, defaultMaxPageSize); err != nil {
		return Config{}, err
	}
	if cfg.DefaultPageSize, err = getInt(defaultPageSizeEnvVar, defaultPageSize); err != nil {
		return Config{}, err
	}
	minPoints, err := getInt(minPointIncrementEnvVar, defaultMinPoints)
	if err != nil {
		return Config{}, err
	}
	cfg.MinPointIncrement = int64(minPoints)
	if cfg.AdminRatePerMin, err = getInt(adminRateEnvVar, defaultAdminRatePerMin); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(migrateEnvVar); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", migrateEnvVar, err)
		}
		cfg.MigrateOnStart = b
	}

	if cfg.MaxPageSize < 1 {
		return Config{}, fmt.Errorf("%s must be >= 1", maxPageSizeEnvVar)
	}
	if cfg.DefaultPageSize < 1 || cfg.DefaultPageSize > cfg.MaxPageSize {
		return Config{}, fmt.Errorf("%s must be between 1 and %s", defaultPageSizeEnvVar, maxPageSizeEnvVar)
	}
	if cfg.MinPointIncrement < 1 {
		return Config{}, fmt.Errorf("%s must be >= 1", minPointIncrementEnvVar)
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the environment may run on in-memory backends.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// secondsOrDuration reads an integer seconds variable, falling back to a
// Go duration string variable.
func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}
