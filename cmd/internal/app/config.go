package app

import (
	"strings"
	"time"
)

// Refresh store backends selectable through POSTBOARD_REFRESH_STORE.
const (
	RefreshStoreAuto     = "auto"
	RefreshStoreMemory   = "memory"
	RefreshStorePostgres = "postgres"
	RefreshStoreRedis    = "redis"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	Env       string
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool

	RedisURL string

	// RefreshStore is one of auto/memory/postgres/redis.
	// auto picks postgres when DatabaseURL is set, memory otherwise.
	RefreshStore string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, POSTBOARD_TOKEN_HMAC_KEY must be set (>= 32 bytes) and refresh
	// digests must be HMAC-based.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Env:       strings.ToLower(EnvString("POSTBOARD_ENV", "local")),
		HTTPAddr:  EnvString("POSTBOARD_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("POSTBOARD_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("POSTBOARD_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("POSTBOARD_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("POSTBOARD_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("POSTBOARD_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("POSTBOARD_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("POSTBOARD_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("POSTBOARD_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("POSTBOARD_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("POSTBOARD_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("POSTBOARD_DB_MIGRATE", true),

		RedisURL: EnvString("POSTBOARD_REDIS_URL", ""),

		RefreshStore: strings.ToLower(EnvString("POSTBOARD_REFRESH_STORE", RefreshStoreAuto)),

		ReadinessRequireDB: EnvBool("POSTBOARD_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("POSTBOARD_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvList("POSTBOARD_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("POSTBOARD_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("POSTBOARD_CORS_MAX_AGE_SECONDS", 600),
	}
}
