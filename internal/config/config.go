package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bhandras/huddle/shared/logger"
	"github.com/joho/godotenv"
)

const (
	defaultPort      = 3005
	defaultTypingTTL = 5 * time.Second
	defaultRateLimit = 20
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr         string
	DatabasePath string
	// MasterSecret keys HMAC bearer tokens. Optional when JWKSURL is set.
	MasterSecret string
	// JWKSURL points at an external identity provider's signing keys.
	JWKSURL string
	// JWTIssuer is the expected "iss" claim for JWKS validated tokens.
	JWTIssuer      string
	Debug          bool
	LogLevel       logger.Level
	AllowedOrigins []string
	// TypingTTL bounds how long a typing indicator survives without refresh.
	TypingTTL time.Duration
	// ClientRateLimit caps inbound socket events per second per connection.
	ClientRateLimit int
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr         *string
	DatabasePath *string
	MasterSecret *string
	Debug        *bool
	TypingTTL    *time.Duration
}

// Load loads server configuration from environment variables (and a .env
// file in the working directory, if present) and applies any explicit
// overrides.
func Load(overrides Overrides) (*Config, error) {
	_ = godotenv.Load()

	port := defaultPort
	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", portStr, err)
		}
		port = p
	}

	addr := fmt.Sprintf(":%d", port)
	if overrides.Addr != nil {
		addr = *overrides.Addr
	}

	dbPath := getEnv("DATABASE_PATH", "./huddle.db")
	if overrides.DatabasePath != nil {
		dbPath = *overrides.DatabasePath
	}

	masterSecret := os.Getenv("HUDDLE_MASTER_SECRET")
	if overrides.MasterSecret != nil {
		masterSecret = *overrides.MasterSecret
	}
	jwksURL := os.Getenv("HUDDLE_JWKS_URL")
	if masterSecret == "" && jwksURL == "" {
		return nil, fmt.Errorf("HUDDLE_MASTER_SECRET or HUDDLE_JWKS_URL environment variable is required")
	}

	debug := false
	if debugStr := os.Getenv("DEBUG"); debugStr == "true" || debugStr == "1" {
		debug = true
	}
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}
	if debug && level > logger.LevelDebug {
		level = logger.LevelDebug
	}

	typingTTL := defaultTypingTTL
	if raw := os.Getenv("TYPING_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid TYPING_TTL %q", raw)
		}
		typingTTL = d
	}
	if overrides.TypingTTL != nil {
		typingTTL = *overrides.TypingTTL
	}

	rateLimit := defaultRateLimit
	if raw := os.Getenv("CLIENT_RATE_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid CLIENT_RATE_LIMIT %q", raw)
		}
		rateLimit = n
	}

	return &Config{
		Addr:            addr,
		DatabasePath:    dbPath,
		MasterSecret:    masterSecret,
		JWKSURL:         jwksURL,
		JWTIssuer:       os.Getenv("HUDDLE_JWT_ISSUER"),
		Debug:           debug,
		LogLevel:        level,
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "*")),
		TypingTTL:       typingTTL,
		ClientRateLimit: rateLimit,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
