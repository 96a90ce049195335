package config

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	environ := map[string]string{
		"APP_BASE_URL":            "https://app.example.com/",
		"OAUTH_CALLBACK_BASE_URL": "https://api.example.com",
		"SESSION_JWT_SECRET":      "jwt-secret",
	}
	for _, p := range providers.All() {
		environ[p.EnvPrefix()+"_CLIENT_ID"] = string(p) + "-id"
		environ[p.EnvPrefix()+"_CLIENT_SECRET"] = string(p) + "-secret"
	}
	return environ
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(baseEnv())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Equal(t, "artist.db", cfg.DatabaseURL)
	assert.Equal(t, "https://app.example.com", cfg.AppBaseURL)
	assert.Equal(t, 10*time.Second, cfg.TokenExchangeTimeout)
	assert.Equal(t, 5*time.Second, cfg.IdentityTimeout)
	assert.Equal(t, 5*time.Second, cfg.StorageTimeout)
	assert.Equal(t, uint(3), cfg.StorageRetries)

	creds := cfg.ProviderCredentials()
	require.Len(t, creds, len(providers.All()))
	assert.Equal(t, "tiktok-secret", creds[providers.TikTok].ClientSecret)
	assert.Equal(t, "youtube-id", creds[providers.YouTube].ClientID)
}

func TestLoadFrom_MissingProviderSecretFailsFast(t *testing.T) {
	for _, p := range providers.All() {
		t.Run(string(p), func(t *testing.T) {
			environ := baseEnv()
			delete(environ, p.EnvPrefix()+"_CLIENT_SECRET")

			_, err := LoadFrom(environ)
			require.Error(t, err)
			assert.Contains(t, err.Error(), p.EnvPrefix()+"_CLIENT_SECRET")
		})
	}
}

func TestLoadFrom_EmptySecretRejected(t *testing.T) {
	environ := baseEnv()
	environ["SPOTIFY_CLIENT_SECRET"] = ""

	_, err := LoadFrom(environ)
	assert.Error(t, err)
}

func TestLoadFrom_RelativeURLRejected(t *testing.T) {
	environ := baseEnv()
	environ["OAUTH_CALLBACK_BASE_URL"] = "/callback"

	_, err := LoadFrom(environ)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OAUTH_CALLBACK_BASE_URL")
}

func TestLoadFrom_Overrides(t *testing.T) {
	environ := baseEnv()
	environ["PORT"] = "9090"
	environ["TOKEN_EXCHANGE_TIMEOUT"] = "3s"
	environ["STORAGE_RETRIES"] = "5"

	cfg, err := LoadFrom(environ)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, 3*time.Second, cfg.TokenExchangeTimeout)
	assert.Equal(t, uint(5), cfg.StorageRetries)
}

func TestLogValue_RedactsSecrets(t *testing.T) {
	cfg, err := LoadFrom(baseEnv())
	require.NoError(t, err)

	var sb strings.Builder
	logger := slog.New(slog.NewTextHandler(&sb, nil))
	logger.Info("config", "config", cfg)

	out := sb.String()
	assert.NotContains(t, out, "jwt-secret")
	for _, p := range providers.All() {
		assert.NotContains(t, out, fmt.Sprintf("%s-secret", p))
	}
}
