package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Identity and document backends for accountd.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Account store backends for the site and the CLI.
const (
	StoreLocal  = "local"
	StoreHosted = "hosted"
)

// Config holds accountd configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DB DBConfig

	// JWT
	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	ReauthWindow   time.Duration

	// Backends
	IdentityBackend string
	DocumentBackend string
	MongoURI        string
	MongoDatabase   string

	// Events
	AMQPURL      string
	AMQPExchange string

	// SMTP (optional)
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Base URL used in password reset links
	AppBaseURL string

	// CookieSecure sets the Secure flag on the access token cookie.
	CookieSecure bool

	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Validation      ValidationConfig
	PasswordPolicy  PasswordPolicyConfig
}

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RateLimitConfig holds per-route-group IP rate limits.
type RateLimitConfig struct {
	Enabled bool

	AuthRequestsPerMinute int
	AuthWindowMinutes     int

	ResetRequestsPerWindow int
	ResetWindowMinutes     int

	ReauthRequestsPerWindow int
	ReauthWindowMinutes     int

	ProfileRequestsPerMinute int
	ProfileWindowMinutes     int

	DocumentRequestsPerMinute int
	DocumentWindowMinutes     int
}

// SecurityHeadersConfig holds the response security headers.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// ValidationConfig holds input validation settings.
type ValidationConfig struct {
	MaxRequestBodySize    int64
	StrictEmailValidation bool
	BlockDisposableEmail  bool
}

// PasswordPolicyConfig holds password complexity requirements.
type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// Load loads accountd configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		DB: loadDB(),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", "simple-accounts"),
		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", time.Hour),
		ResetTokenTTL:  getEnvDuration("PASSWORD_RESET_TTL", time.Hour),
		ReauthWindow:   getEnvDuration("REAUTH_WINDOW", 5*time.Minute),

		IdentityBackend: getEnv("IDENTITY_BACKEND", BackendPostgres),
		DocumentBackend: getEnv("DOCUMENT_BACKEND", BackendMongo),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DATABASE", "accounts"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "accounts.events"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Accounts"),

		AppBaseURL:   getEnv("APP_BASE_URL", "http://localhost:8081"),
		CookieSecure: getEnvBool("COOKIE_SECURE", false),

		RateLimit: RateLimitConfig{
			Enabled:                   getEnvBool("RATE_LIMIT_ENABLED", true),
			AuthRequestsPerMinute:     getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindowMinutes:         getEnvInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 1),
			ResetRequestsPerWindow:    getEnvInt("RATE_LIMIT_RESET_REQUESTS", 3),
			ResetWindowMinutes:        getEnvInt("RATE_LIMIT_RESET_WINDOW_MINUTES", 15),
			ReauthRequestsPerWindow:   getEnvInt("RATE_LIMIT_REAUTH_REQUESTS", 5),
			ReauthWindowMinutes:       getEnvInt("RATE_LIMIT_REAUTH_WINDOW_MINUTES", 5),
			ProfileRequestsPerMinute:  getEnvInt("RATE_LIMIT_PROFILE_REQUESTS", 30),
			ProfileWindowMinutes:      getEnvInt("RATE_LIMIT_PROFILE_WINDOW_MINUTES", 1),
			DocumentRequestsPerMinute: getEnvInt("RATE_LIMIT_DOCUMENT_REQUESTS", 60),
			DocumentWindowMinutes:     getEnvInt("RATE_LIMIT_DOCUMENT_WINDOW_MINUTES", 1),
		},
		SecurityHeaders: loadSecurityHeaders(),
		Validation: ValidationConfig{
			MaxRequestBodySize:    int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
			StrictEmailValidation: getEnvBool("STRICT_EMAIL_VALIDATION", false),
			BlockDisposableEmail:  getEnvBool("BLOCK_DISPOSABLE_EMAIL", false),
		},
		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 6),
			RequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", false),
			RequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", false),
			RequireNumber:    getEnvBool("PASSWORD_REQUIRE_NUMBER", false),
			RequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", false),
		},
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if err := oneOf("IDENTITY_BACKEND", cfg.IdentityBackend, BackendPostgres, BackendMemory); err != nil {
		return nil, err
	}
	if err := oneOf("DOCUMENT_BACKEND", cfg.DocumentBackend, BackendMongo, BackendMemory); err != nil {
		return nil, err
	}

	return cfg, nil
}

// HasSMTP returns true if password reset mail can be sent.
func (c *Config) HasSMTP() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// HasAMQP returns true if account events should be published to RabbitMQ.
func (c *Config) HasAMQP() bool {
	return c.AMQPURL != ""
}

// SiteConfig holds configuration for the site API and the CLI.
type SiteConfig struct {
	ServerAddr string
	ServerPort int

	// Store selects the account store backend: local or hosted.
	Store string

	// Local store persistence
	StorageDriver string
	StorageFile   string
	StoragePrefix string
	RedisAddr     string
	DB            DBConfig
	S3            S3Config

	// Hosted store
	HostedURL     string
	HostedTimeout time.Duration

	PublicBaseURL      string
	StaticDir          string
	SimulateLatency    bool
	CookieSecure       bool
	VisitorTTL         time.Duration
	SecurityHeaders    SecurityHeadersConfig
	MaxRequestBodySize int64
}

// S3Config holds S3 storage driver settings.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	KeyPrefix string
}

// LoadSite loads site and CLI configuration from environment variables.
func LoadSite() (*SiteConfig, error) {
	cfg := &SiteConfig{
		ServerAddr: getEnv("SITE_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SITE_PORT", 8081),

		Store: getEnv("ACCOUNT_STORE", StoreLocal),

		StorageDriver: getEnv("STORAGE_DRIVER", "file"),
		StorageFile:   getEnv("STORAGE_FILE", "accounts.json"),
		StoragePrefix: getEnv("STORAGE_PREFIX", "ilovexxh_"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		DB:            loadDB(),
		S3: S3Config{
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			KeyPrefix: getEnv("S3_KEY_PREFIX", ""),
		},

		HostedURL:     getEnv("HOSTED_URL", "http://localhost:8080"),
		HostedTimeout: getEnvDuration("HOSTED_TIMEOUT", 10*time.Second),

		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "https://deepseek.ilovexxh.com"),
		StaticDir:          getEnv("STATIC_DIR", ""),
		SimulateLatency:    getEnvBool("SIMULATE_LATENCY", true),
		CookieSecure:       getEnvBool("COOKIE_SECURE", false),
		VisitorTTL:         getEnvDuration("VISITOR_TTL", 30*24*time.Hour),
		SecurityHeaders:    loadSecurityHeaders(),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
	}

	if err := oneOf("ACCOUNT_STORE", cfg.Store, StoreLocal, StoreHosted); err != nil {
		return nil, err
	}
	if cfg.Store == StoreLocal && cfg.StorageDriver == "s3" && cfg.S3.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required for the s3 storage driver")
	}

	return cfg, nil
}

func loadDB() DBConfig {
	// Defaults match the local podman setup.
	return DBConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 25432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Name:     getEnv("DB_NAME", "simple_accounts"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func loadSecurityHeaders() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
		CSP:                getEnv("SECURITY_CSP", "default-src 'self'"),
		HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 0),
		FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
		ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
		XSSProtection:      getEnv("SECURITY_XSS_PROTECTION", "1; mode=block"),
		ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
		PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", ""),
	}
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
