package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"housegen/internal/auth"
)

// Config aggregates runtime configuration for the housegen API.
type Config struct {
	Environment    string
	HTTPPort       int
	DatabaseURL    string
	DataStore      string
	LogLevel       string
	AllowedOrigins []string
	FrontendURL    string

	JWTAccessSecret    string
	JWTRefreshSecret   string
	OAuthSessionSecret string
	AuthIssuer         string
	BcryptCost         int

	GoogleClientID       string
	GoogleClientSecret   string
	GoogleRedirectURL    string
	GoogleAllowedDomains []string
	GoogleAllowedEmails  []string

	// TrustedProxies gate the X-User-Id header and X-Forwarded-Proto. Empty
	// disables both.
	TrustedProxies []netip.Prefix

	AuthRateLimit       int
	AuthRateWindow      time.Duration
	GenerationsPerHour  int
	RateLimitSweepEvery time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AMQPURL   string
	AMQPQueue string

	// DevAdminEmail and DevAdminPassword seed an admin account into the
	// in-memory store in development.
	DevAdminEmail    string
	DevAdminPassword string
}

// LoadDotEnv loads variables from the given .env files without overriding
// variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults for local development.
func Load() (Config, error) {
	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/housegen_database_url")
	if err != nil {
		return Config{}, err
	}
	accessSecret, err := getEnvOrFile("JWT_ACCESS_SECRET", "/run/secrets/housegen_jwt_access_secret")
	if err != nil {
		return Config{}, err
	}
	refreshSecret, err := getEnvOrFile("JWT_REFRESH_SECRET", "/run/secrets/housegen_jwt_refresh_secret")
	if err != nil {
		return Config{}, err
	}
	oauthSecret, err := getEnvOrFile("OAUTH_SESSION_SECRET", "/run/secrets/housegen_oauth_session_secret")
	if err != nil {
		return Config{}, err
	}
	googleClientSecret, err := getEnvOrFile("AUTH_GOOGLE_CLIENT_SECRET", "/run/secrets/housegen_google_client_secret")
	if err != nil {
		return Config{}, err
	}
	redisPassword, err := getEnvOrFile("REDIS_PASSWORD", "")
	if err != nil {
		return Config{}, err
	}
	amqpURL, err := getEnvOrFile("AMQP_URL", "")
	if err != nil {
		return Config{}, err
	}
	devAdminPassword, err := getEnvOrFile("DEV_ADMIN_PASSWORD", "")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DatabaseURL:    databaseURL,
		DataStore:      strings.ToLower(getEnv("DATA_STORE", "memory")),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		FrontendURL:    strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),

		JWTAccessSecret:    strings.TrimSpace(accessSecret),
		JWTRefreshSecret:   strings.TrimSpace(refreshSecret),
		OAuthSessionSecret: strings.TrimSpace(oauthSecret),
		AuthIssuer:         getEnv("AUTH_ISSUER", auth.DefaultIssuer),

		GoogleClientID:       strings.TrimSpace(os.Getenv("AUTH_GOOGLE_CLIENT_ID")),
		GoogleClientSecret:   strings.TrimSpace(googleClientSecret),
		GoogleRedirectURL:    getEnv("AUTH_GOOGLE_REDIRECT_URL", "http://localhost:8080/api/auth/google/callback"),
		GoogleAllowedDomains: parseCSV(os.Getenv("AUTH_GOOGLE_ALLOWED_DOMAINS")),
		GoogleAllowedEmails:  parseCSV(os.Getenv("AUTH_GOOGLE_ALLOWED_EMAILS")),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: redisPassword,
		AMQPURL:       strings.TrimSpace(amqpURL),
		AMQPQueue:     getEnv("AMQP_QUEUE", "auth.notifications"),

		DevAdminEmail:    strings.TrimSpace(os.Getenv("DEV_ADMIN_EMAIL")),
		DevAdminPassword: devAdminPassword,
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if cfg.Environment == "" {
		cfg.Environment = "development"
		if cfg.OAuthEnabled() {
			cfg.Environment = "production"
		}
	}

	if cfg.HTTPPort, err = getInt("PORT", getEnv("HTTP_PORT", "8080")); err != nil {
		return Config{}, err
	}
	if cfg.BcryptCost, err = getInt("BCRYPT_COST", strconv.Itoa(auth.DefaultBcryptCost)); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", "0"); err != nil {
		return Config{}, err
	}
	if cfg.AuthRateLimit, err = getInt("RATE_LIMIT_AUTH_ATTEMPTS", "10"); err != nil {
		return Config{}, err
	}
	if cfg.AuthRateWindow, err = getDuration("RATE_LIMIT_AUTH_WINDOW", "15m"); err != nil {
		return Config{}, err
	}
	if cfg.GenerationsPerHour, err = getInt("RATE_LIMIT_GENERATIONS_PER_HOUR", "20"); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitSweepEvery, err = getDuration("RATE_LIMIT_SWEEP_INTERVAL", "5m"); err != nil {
		return Config{}, err
	}

	cfg.TrustedProxies, err = auth.ParseTrustedNetworks(parseCSV(os.Getenv("AUTH_TRUSTED_PROXY_CIDRS")))
	if err != nil {
		return Config{}, fmt.Errorf("AUTH_TRUSTED_PROXY_CIDRS: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTAccessSecret == "" {
		return errors.New("JWT_ACCESS_SECRET is required")
	}
	if c.JWTRefreshSecret == "" {
		return errors.New("JWT_REFRESH_SECRET is required")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if c.DataStore != "memory" && c.DataStore != "postgres" {
		return fmt.Errorf("DATA_STORE must be memory or postgres, got %q", c.DataStore)
	}
	if c.DataStore == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
	}

	if c.AuthRateLimit <= 0 || c.AuthRateWindow <= 0 {
		return errors.New("RATE_LIMIT_AUTH_ATTEMPTS and RATE_LIMIT_AUTH_WINDOW must be positive")
	}
	if c.GenerationsPerHour <= 0 {
		return errors.New("RATE_LIMIT_GENERATIONS_PER_HOUR must be positive")
	}
	if c.RateLimitSweepEvery <= 0 {
		return errors.New("RATE_LIMIT_SWEEP_INTERVAL must be positive")
	}

	if c.OAuthEnabled() {
		if c.GoogleClientSecret == "" {
			return errors.New("AUTH_GOOGLE_CLIENT_SECRET is required when AUTH_GOOGLE_CLIENT_ID is set")
		}
		if c.OAuthSessionSecret == "" {
			return errors.New("OAUTH_SESSION_SECRET is required when Google OAuth is configured")
		}
		if c.OAuthSessionSecret == c.JWTAccessSecret || c.OAuthSessionSecret == c.JWTRefreshSecret {
			return errors.New("OAUTH_SESSION_SECRET must differ from the JWT secrets")
		}
	}

	if c.IsDevelopment() {
		return nil
	}

	if c.BcryptCost < auth.DefaultBcryptCost {
		return fmt.Errorf("BCRYPT_COST must be at least %d outside development", auth.DefaultBcryptCost)
	}
	if !c.OAuthEnabled() {
		return errors.New("AUTH_GOOGLE_CLIENT_ID is required outside development")
	}
	if len(c.GoogleAllowedDomains) == 0 && len(c.GoogleAllowedEmails) == 0 {
		return errors.New("AUTH_GOOGLE_ALLOWED_DOMAINS or AUTH_GOOGLE_ALLOWED_EMAILS is required outside development")
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("ALLOWED_ORIGINS must define at least one origin outside development")
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return errors.New("ALLOWED_ORIGINS cannot contain wildcard outside development")
		}
	}
	return nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseInMemoryStore returns true if the in-memory repository should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// OAuthEnabled reports whether Google sign-in is configured.
func (c Config) OAuthEnabled() bool {
	return c.GoogleClientID != ""
}

func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key, fallback string) (int, error) {
	value := getEnv(key, fallback)
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getDuration(key, fallback string) (time.Duration, error) {
	value := getEnv(key, fallback)
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
