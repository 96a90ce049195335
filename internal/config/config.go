// Package config loads the process configuration from the environment once
// at startup.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"github.com/caarlos0/env/v11"
)

// ProviderCredentials are read from <PROVIDER>_CLIENT_ID and <PROVIDER>_CLIENT_SECRET.
type ProviderCredentials struct {
	ClientID     string `env:"CLIENT_ID,required,notEmpty"`
	ClientSecret string `env:"CLIENT_SECRET,required,notEmpty"`
}

// Config is the immutable process configuration.
type Config struct {
	Host        string `env:"HOST" envDefault:"127.0.0.1"`
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"artist.db"`

	// AppBaseURL is where the browser lands after connecting a platform.
	AppBaseURL string `env:"APP_BASE_URL,required,notEmpty"`
	// CallbackBaseURL is the public base of this service; redirect URIs are
	// rebuilt from it on both legs of the authorization flow.
	CallbackBaseURL string `env:"OAUTH_CALLBACK_BASE_URL,required,notEmpty"`

	SessionJWTSecret   string `env:"SESSION_JWT_SECRET,required,notEmpty"`
	SessionJWTAudience string `env:"SESSION_JWT_AUDIENCE"`

	ProvidersFile string `env:"PROVIDERS_FILE"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	TokenExchangeTimeout    time.Duration `env:"TOKEN_EXCHANGE_TIMEOUT" envDefault:"10s"`
	IdentityTimeout         time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"5s"`
	StorageTimeout          time.Duration `env:"STORAGE_TIMEOUT" envDefault:"5s"`
	StorageRetries          uint          `env:"STORAGE_RETRIES" envDefault:"3"`
	PendingAuthorizationTTL time.Duration `env:"PENDING_AUTHORIZATION_TTL" envDefault:"10m"`

	Spotify   ProviderCredentials `envPrefix:"SPOTIFY_"`
	Instagram ProviderCredentials `envPrefix:"INSTAGRAM_"`
	TikTok    ProviderCredentials `envPrefix:"TIKTOK_"`
	Twitter   ProviderCredentials `envPrefix:"TWITTER_"`
	YouTube   ProviderCredentials `envPrefix:"YOUTUBE_"`
	Facebook  ProviderCredentials `envPrefix:"FACEBOOK_"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given environment map instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")
	return cfg, nil
}

func (c Config) validate() error {
	for name, raw := range map[string]string{
		"APP_BASE_URL":            c.AppBaseURL,
		"OAUTH_CALLBACK_BASE_URL": c.CallbackBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.TokenExchangeTimeout <= 0 || c.IdentityTimeout <= 0 || c.StorageTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

// ProviderCredentials returns the credentials keyed by provider.
func (c Config) ProviderCredentials() map[providers.Provider]providers.Credentials {
	raw := map[providers.Provider]ProviderCredentials{
		providers.Spotify:   c.Spotify,
		providers.Instagram: c.Instagram,
		providers.TikTok:    c.TikTok,
		providers.Twitter:   c.Twitter,
		providers.YouTube:   c.YouTube,
		providers.Facebook:  c.Facebook,
	}
	creds := make(map[providers.Provider]providers.Credentials, len(raw))
	for p, pc := range raw {
		creds[p] = providers.Credentials{ClientID: pc.ClientID, ClientSecret: pc.ClientSecret}
	}
	return creds
}

// LogValue omits every secret.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Addr()),
		slog.String("app_base_url", c.AppBaseURL),
		slog.String("callback_base_url", c.CallbackBaseURL),
		slog.String("providers_file", c.ProvidersFile),
		slog.Duration("token_exchange_timeout", c.TokenExchangeTimeout),
		slog.Duration("identity_timeout", c.IdentityTimeout),
		slog.Duration("storage_timeout", c.StorageTimeout),
		slog.Uint64("storage_retries", uint64(c.StorageRetries)),
	)
}
