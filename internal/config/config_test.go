package config

import (
	"testing"
	"time"

	"github.com/bhandras/huddle/shared/logger"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "DATABASE_PATH", "HUDDLE_MASTER_SECRET", "HUDDLE_JWKS_URL",
		"HUDDLE_JWT_ISSUER", "DEBUG", "LOG_LEVEL", "TYPING_TTL",
		"CLIENT_RATE_LIMIT", "ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_RequiresSecretOrJWKS(t *testing.T) {
	clearEnv(t)
	_, err := Load(Overrides{})
	require.Error(t, err)

	t.Setenv("HUDDLE_JWKS_URL", "https://idp.example/certs")
	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, "https://idp.example/certs", cfg.JWKSURL)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HUDDLE_MASTER_SECRET", "s3cret")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":3005", cfg.Addr)
	require.Equal(t, "./huddle.db", cfg.DatabasePath)
	require.Equal(t, 5*time.Second, cfg.TypingTTL)
	require.Equal(t, 20, cfg.ClientRateLimit)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.Equal(t, logger.LevelInfo, cfg.LogLevel)
}

func TestLoad_EnvAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HUDDLE_MASTER_SECRET", "s3cret")
	t.Setenv("PORT", "9000")
	t.Setenv("DEBUG", "1")
	t.Setenv("TYPING_TTL", "2s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	addr := "127.0.0.1:0"
	ttl := time.Second
	cfg, err := Load(Overrides{Addr: &addr, TypingTTL: &ttl})
	require.NoError(t, err)
	require.Equal(t, addr, cfg.Addr)
	require.Equal(t, time.Second, cfg.TypingTTL)
	require.True(t, cfg.Debug)
	require.Equal(t, logger.LevelDebug, cfg.LogLevel)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("HUDDLE_MASTER_SECRET", "s3cret")

	t.Setenv("TYPING_TTL", "soon")
	_, err := Load(Overrides{})
	require.Error(t, err)

	t.Setenv("TYPING_TTL", "")
	t.Setenv("PORT", "eighty")
	_, err = Load(Overrides{})
	require.Error(t, err)
}
