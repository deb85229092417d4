package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Provider ProviderConfig
	Billing  BillingConfig
}

// ProviderConfig points at the external billing provider API.
type ProviderConfig struct {
	BaseURL string
	Timeout time.Duration
}

// BillingConfig carries the billing-domain knobs shared by the
// rollover and tier upgrade engines.
type BillingConfig struct {
	CycleDays       int
	Currency        string
	LockTTL         time.Duration
	TierCacheMargin time.Duration

	// RescheduleOnSkippedCharge pushes a store's queue entry forward by one
	// cycle when a discounted charge computes to zero or below. When off the
	// entry keeps its past-due score and the store is re-selected every tick.
	RescheduleOnSkippedCharge bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "meterbill"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "meterbill"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Provider: ProviderConfig{
			BaseURL: strings.TrimRight(getenv("BILLING_PROVIDER_URL", "https://billing.example.com"), "/"),
			Timeout: getenvDuration("BILLING_PROVIDER_TIMEOUT", 15*time.Second),
		},
		Billing: BillingConfig{
			CycleDays:                 getenvInt("BILLING_CYCLE_DAYS", 30),
			Currency:                  getenv("BILLING_CURRENCY", "USD"),
			LockTTL:                   getenvDuration("BILLING_LOCK_TTL", 2*time.Minute),
			TierCacheMargin:           getenvDuration("TIER_CACHE_MARGIN", time.Hour),
			RescheduleOnSkippedCharge: getenvBool("BILLING_RESCHEDULE_ON_SKIPPED_CHARGE", false),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
