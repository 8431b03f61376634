package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, CT_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and unlock-token
	// hashing must be HMAC-based.
	RequireTokenHMAC bool

	// Session and gate tuning.
	SessionTTL         time.Duration
	UnlockTokenTTL     time.Duration
	VerifyRateLimit    int
	VerifyRateWindow   time.Duration
	MintRateLimit      int
	MintRateWindow     time.Duration
	StreamPollInterval time.Duration
	StreamQueueSize    int

	// WebSocket origin hosts authorized for cross-origin upgrades.
	WSAllowedOrigins []string

	// CORS policy for the browser client. Origins may use a trailing
	// wildcard port ("http://127.0.0.1:*").
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Legacy password identities seeded at startup, "handle:password" pairs.
	SeedUsers []string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("CT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("CT_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("CT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CT_HTTP_READ_TIMEOUT", 15*time.Second),
		// The write timeout must outlive long-lived SSE streams; zero
		// disables it and per-write deadlines guard the gateways instead.
		WriteTimeout: EnvDuration("CT_HTTP_WRITE_TIMEOUT", 0),
		IdleTimeout:  EnvDuration("CT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("CT_DATABASE_URL", ""),
		DBSchema:    EnvString("CT_DB_SCHEMA", "ciphertalk"),
		DBMaxConns:  EnvInt32("CT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CT_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("CT_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("CT_REQUIRE_TOKEN_HMAC", false),

		SessionTTL:         EnvDuration("CT_SESSION_TTL", time.Hour),
		UnlockTokenTTL:     EnvDuration("CT_UNLOCK_TOKEN_TTL", 15*time.Minute),
		VerifyRateLimit:    EnvInt("CT_VERIFY_RATE_LIMIT", 10),
		VerifyRateWindow:   EnvDuration("CT_VERIFY_RATE_WINDOW", time.Minute),
		MintRateLimit:      EnvInt("CT_MINT_RATE_LIMIT", 10),
		MintRateWindow:     EnvDuration("CT_MINT_RATE_WINDOW", time.Minute),
		StreamPollInterval: EnvDuration("CT_STREAM_POLL_INTERVAL", time.Second),
		StreamQueueSize:    EnvInt("CT_STREAM_QUEUE_SIZE", 64),

		WSAllowedOrigins: EnvCSV("CT_WS_ALLOWED_ORIGINS", "localhost,127.0.0.1"),

		CORSAllowedOrigins:   EnvCSV("CT_CORS_ALLOWED_ORIGINS", "http://localhost:*,http://127.0.0.1:*"),
		CORSAllowCredentials: EnvBool("CT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CT_CORS_MAX_AGE_SECONDS", 600),

		SeedUsers: EnvCSV("CT_SEED_USERS", "gwen:110606,spiderman:300606"),
	}
}
