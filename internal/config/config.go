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
	HTTPAddr    string

	// AdminAddresses are the identities allowed to perform administrative
	// operations (pause, minting, rule management, arbitration).
	AdminAddresses []string
	// AuditorAddresses may record compliance checks in addition to admins.
	AuditorAddresses []string

	// FeeRecipient receives the platform fee on every released payment.
	FeeRecipient string
	// PlatformFeeBps is the initial platform fee in basis points.
	PlatformFeeBps int64
	// MinimumHoldPeriod is the delay before a payment can be released.
	MinimumHoldPeriod time.Duration

	// RulesetPath optionally overrides the embedded default compliance rules.
	RulesetPath string

	OTLPEndpoint string
	RedisAddr    string

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
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "provenance"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		AdminAddresses:    parseAddressList(getenv("ADMIN_ADDRESSES", "admin")),
		AuditorAddresses:  parseAddressList(getenv("AUDITOR_ADDRESSES", "")),
		FeeRecipient:      strings.TrimSpace(getenv("FEE_RECIPIENT", "platform")),
		PlatformFeeBps:    getenvInt64("PLATFORM_FEE_BPS", 250),
		MinimumHoldPeriod: getenvDuration("MINIMUM_HOLD_PERIOD", 24*time.Hour),
		RulesetPath:       strings.TrimSpace(getenv("COMPLIANCE_RULESET_PATH", "")),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "provenance"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
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

func parseAddressList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
