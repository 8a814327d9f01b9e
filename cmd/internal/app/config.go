package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json|pretty
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// AutoMigrate applies pending migrations when the server starts.
	AutoMigrate bool

	// If true:
	// - startup fails without QUILL_DATABASE_URL (in-memory stores are dev only)
	// - /readyz returns 503 unless the DB is reachable
	RequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// OAuthStateTTL bounds the provider round trip.
	OAuthStateTTL time.Duration

	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("QUILL_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("QUILL_LOG_LEVEL", "info"),
		LogFormat: EnvString("QUILL_LOG_FORMAT", "json"),
		LogColor:  EnvBool("QUILL_LOG_COLOR", true),

		ReadHeaderTimeout: EnvDuration("QUILL_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("QUILL_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("QUILL_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("QUILL_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("QUILL_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("QUILL_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("QUILL_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("QUILL_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("QUILL_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("QUILL_DB_SCHEMA", "quill"),
		AutoMigrate: EnvBool("QUILL_DB_AUTO_MIGRATE", false),

		RequireDB: EnvBool("QUILL_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvCSV("QUILL_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("QUILL_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("QUILL_CORS_MAX_AGE", 600),

		OAuthStateTTL: EnvDuration("QUILL_OAUTH_STATE_TTL", 10*time.Minute),

		MetricsEnabled: EnvBool("QUILL_METRICS_ENABLED", true),
	}
}
