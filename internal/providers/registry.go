// Package providers holds the immutable table of supported OAuth platforms:
// endpoints, client credentials, default scopes and how each platform
// reports the identity of the connected account.
package providers

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/instagram"
	"golang.org/x/oauth2/spotify"
	"gopkg.in/yaml.v3"
)

// Provider identifies one of the supported OAuth platforms.
type Provider string

const (
	Spotify   Provider = "spotify"
	Instagram Provider = "instagram"
	TikTok    Provider = "tiktok"
	Twitter   Provider = "twitter"
	YouTube   Provider = "youtube"
	Facebook  Provider = "facebook"
)

var all = []Provider{Spotify, Instagram, TikTok, Twitter, YouTube, Facebook}

// All returns the closed provider set in a stable order.
func All() []Provider {
	return append([]Provider(nil), all...)
}

// Parse normalizes name and checks it against the provider set.
func Parse(name string) (Provider, error) {
	p := Provider(normalizeProviderID(name))
	for _, known := range all {
		if p == known {
			return p, nil
		}
	}
	return "", apperr.UnsupportedProvider(name)
}

// EnvPrefix is the prefix of the provider's credential variables, e.g. SPOTIFY.
func (p Provider) EnvPrefix() string {
	return strings.ToUpper(string(p))
}

// Credentials are the OAuth client credentials issued by a provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Endpoint is the resolved, read-only configuration of one provider.
type Endpoint struct {
	Provider     Provider
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	AuthStyle    oauth2.AuthStyle
	// ScopeSeparator overrides the RFC 6749 space separator (TikTok uses commas).
	ScopeSeparator string
	// PKCE marks providers that require a code_verifier on exchange.
	PKCE bool
	// ExtraParams are sent on both the authorization URL and the token request.
	ExtraParams map[string]string
	// AuthParams are sent on the authorization URL only.
	AuthParams map[string]string

	identity identityParser
}

// LogValue keeps the client secret out of logs.
func (e Endpoint) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", string(e.Provider)),
		slog.String("client_id", e.ClientID),
		slog.String("token_url", e.TokenURL),
		slog.String("user_info_url", e.UserInfoURL),
	)
}

// OAuth2Config builds the oauth2 client configuration for redirectURL.
func (e Endpoint) OAuth2Config(redirectURL string) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:     e.ClientID,
		ClientSecret: e.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   e.AuthURL,
			TokenURL:  e.TokenURL,
			AuthStyle: e.AuthStyle,
		},
	}
	if e.ScopeSeparator == "" {
		cfg.Scopes = append([]string(nil), e.Scopes...)
	}
	return cfg
}

// AuthCodeURL returns the consent page URL for state and redirectURL.
func (e Endpoint) AuthCodeURL(redirectURL, state string, opts ...oauth2.AuthCodeOption) string {
	if e.ScopeSeparator != "" && len(e.Scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(e.Scopes, e.ScopeSeparator)))
	}
	for _, k := range sortedKeys(e.ExtraParams) {
		opts = append(opts, oauth2.SetAuthURLParam(k, e.ExtraParams[k]))
	}
	for _, k := range sortedKeys(e.AuthParams) {
		opts = append(opts, oauth2.SetAuthURLParam(k, e.AuthParams[k]))
	}
	return e.OAuth2Config(redirectURL).AuthCodeURL(state, opts...)
}

// TokenParams returns the provider-specific extra token request parameters.
func (e Endpoint) TokenParams() []oauth2.AuthCodeOption {
	opts := make([]oauth2.AuthCodeOption, 0, len(e.ExtraParams))
	for _, k := range sortedKeys(e.ExtraParams) {
		opts = append(opts, oauth2.SetAuthURLParam(k, e.ExtraParams[k]))
	}
	return opts
}

// ParseIdentity decodes the provider's user-info response.
func (e Endpoint) ParseIdentity(body []byte) (Identity, error) {
	if e.identity == nil {
		return Identity{}, fmt.Errorf("no identity parser for %s", e.Provider)
	}
	return e.identity(body)
}

func (e Endpoint) clone() Endpoint {
	e.Scopes = append([]string(nil), e.Scopes...)
	e.ExtraParams = cloneMap(e.ExtraParams)
	e.AuthParams = cloneMap(e.AuthParams)
	return e
}

// Registry maps every supported provider to its endpoint. It is built once at
// startup and never mutated.
type Registry struct {
	endpoints map[Provider]Endpoint
}

// NewRegistry resolves the built-in endpoint table with creds and applies
// overrides. Every provider must have non-empty credentials.
func NewRegistry(creds map[Provider]Credentials, overrides ...Override) (*Registry, error) {
	defaults := defaultEndpoints()
	endpoints := make(map[Provider]Endpoint, len(defaults))

	for _, p := range all {
		c, ok := creds[p]
		if !ok || strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
			return nil, fmt.Errorf("missing credentials for provider %s (%s_CLIENT_ID, %s_CLIENT_SECRET)", p, p.EnvPrefix(), p.EnvPrefix())
		}
		ep := defaults[p]
		ep.ClientID = strings.TrimSpace(c.ClientID)
		ep.ClientSecret = strings.TrimSpace(c.ClientSecret)
		if p == TikTok {
			ep.ExtraParams = map[string]string{"client_key": ep.ClientID}
		}
		endpoints[p] = ep
	}

	for _, o := range overrides {
		p, err := Parse(o.ID)
		if err != nil {
			return nil, fmt.Errorf("provider override: %w", err)
		}
		ep := endpoints[p]
		if err := o.apply(&ep); err != nil {
			return nil, fmt.Errorf("provider override %s: %w", p, err)
		}
		endpoints[p] = ep
	}

	return &Registry{endpoints: endpoints}, nil
}

// Lookup returns a copy of the endpoint for p.
func (r *Registry) Lookup(p Provider) (Endpoint, error) {
	ep, ok := r.endpoints[p]
	if !ok {
		return Endpoint{}, apperr.UnsupportedProvider(string(p))
	}
	return ep.clone(), nil
}

// LookupName parses name and returns its endpoint.
func (r *Registry) LookupName(name string) (Endpoint, error) {
	p, err := Parse(name)
	if err != nil {
		return Endpoint{}, err
	}
	return r.Lookup(p)
}

// Providers returns the configured providers in a stable order.
func (r *Registry) Providers() []Provider {
	result := make([]Provider, 0, len(r.endpoints))
	for _, p := range all {
		if _, ok := r.endpoints[p]; ok {
			result = append(result, p)
		}
	}
	return result
}

type overridesFile struct {
	Providers []Override `yaml:"providers"`
}

// Override replaces endpoint URLs or scopes of one provider. Credentials are
// never read from the overrides file.
type Override struct {
	ID          string   `yaml:"id"`
	AuthURL     string   `yaml:"auth_url"`
	TokenURL    string   `yaml:"token_url"`
	UserInfoURL string   `yaml:"user_info_url"`
	Scopes      []string `yaml:"scopes"`
}

func (o Override) apply(ep *Endpoint) error {
	for _, raw := range []string{o.AuthURL, o.TokenURL, o.UserInfoURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid url %q", raw)
		}
	}
	if v := strings.TrimSpace(o.AuthURL); v != "" {
		ep.AuthURL = v
	}
	if v := strings.TrimSpace(o.TokenURL); v != "" {
		ep.TokenURL = v
	}
	if v := strings.TrimSpace(o.UserInfoURL); v != "" {
		ep.UserInfoURL = v
	}
	if scopes := normalizeScopes(o.Scopes); len(scopes) > 0 {
		ep.Scopes = scopes
	}
	return nil
}

// LoadOverrides reads a YAML overrides file. An empty path yields no overrides.
func LoadOverrides(path string) ([]Override, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file %q: %w", path, err)
	}
	var cfg overridesFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse providers file %q: %w", path, err)
	}
	return cfg.Providers, nil
}

func defaultEndpoints() map[Provider]Endpoint {
	return map[Provider]Endpoint{
		Spotify: {
			Provider:    Spotify,
			AuthURL:     spotify.Endpoint.AuthURL,
			TokenURL:    spotify.Endpoint.TokenURL,
			UserInfoURL: "https://api.spotify.com/v1/me",
			Scopes:      []string{"user-read-email", "user-read-private", "user-top-read"},
			AuthStyle:   oauth2.AuthStyleInHeader,
			identity:    parseSpotifyIdentity,
		},
		Instagram: {
			Provider:    Instagram,
			AuthURL:     instagram.Endpoint.AuthURL,
			TokenURL:    instagram.Endpoint.TokenURL,
			UserInfoURL: "https://graph.instagram.com/me?fields=id,username",
			Scopes:      []string{"user_profile", "user_media"},
			AuthStyle:   oauth2.AuthStyleInParams,
			identity:    parseInstagramIdentity,
		},
		TikTok: {
			Provider:       TikTok,
			AuthURL:        "https://www.tiktok.com/v2/auth/authorize/",
			TokenURL:       "https://open.tiktokapis.com/v2/oauth/token/",
			UserInfoURL:    "https://open.tiktokapis.com/v2/user/info/?fields=open_id,display_name",
			Scopes:         []string{"user.info.basic", "video.list"},
			ScopeSeparator: ",",
			AuthStyle:      oauth2.AuthStyleInParams,
			identity:       parseTikTokIdentity,
		},
		Twitter: {
			Provider:    Twitter,
			AuthURL:     "https://twitter.com/i/oauth2/authorize",
			TokenURL:    "https://api.twitter.com/2/oauth2/token",
			UserInfoURL: "https://api.twitter.com/2/users/me",
			Scopes:      []string{"tweet.read", "users.read", "dm.read", "offline.access"},
			AuthStyle:   oauth2.AuthStyleInHeader,
			PKCE:        true,
			identity:    parseTwitterIdentity,
		},
		YouTube: {
			Provider:    YouTube,
			AuthURL:     google.Endpoint.AuthURL,
			TokenURL:    google.Endpoint.TokenURL,
			UserInfoURL: "https://www.googleapis.com/youtube/v3/channels?part=snippet&mine=true",
			Scopes:      []string{"https://www.googleapis.com/auth/youtube.readonly"},
			AuthStyle:   oauth2.AuthStyleInParams,
			AuthParams:  map[string]string{"access_type": "offline", "prompt": "consent"},
			identity:    parseYouTubeIdentity,
		},
		Facebook: {
			Provider:    Facebook,
			AuthURL:     facebook.Endpoint.AuthURL,
			TokenURL:    facebook.Endpoint.TokenURL,
			UserInfoURL: "https://graph.facebook.com/me?fields=id,name",
			Scopes:      []string{"public_profile", "pages_show_list", "pages_messaging"},
			AuthStyle:   oauth2.AuthStyleInParams,
			identity:    parseFacebookIdentity,
		},
	}
}

func normalizeProviderID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func normalizeScopes(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, value := range in {
		scope := strings.TrimSpace(value)
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
