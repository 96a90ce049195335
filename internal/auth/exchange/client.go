// Package exchange talks to provider token and user-info endpoints.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/util"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Token is the normalized result of a code exchange or refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	// ExpiresIn is the lifetime in seconds; zero means unknown.
	ExpiresIn int64
	Scope     string
}

// ExpiresAt converts ExpiresIn to an absolute time, or nil when unknown.
func (t Token) ExpiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	at := now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	return &at
}

// Exchanger is the provider-facing surface used by the connect flow.
type Exchanger interface {
	ExchangeCode(ctx context.Context, provider providers.Provider, code, redirectURI, verifier string) (Token, error)
	FetchIdentity(ctx context.Context, provider providers.Provider, accessToken string) (providers.Identity, error)
	Refresh(ctx context.Context, provider providers.Provider, refreshToken string) (Token, error)
}

// Options tune the client timeouts.
type Options struct {
	ExchangeTimeout time.Duration
	IdentityTimeout time.Duration
	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
}

type Client struct {
	registry        *providers.Registry
	httpClient      *http.Client
	exchangeTimeout time.Duration
	identityTimeout time.Duration
}

func NewClient(registry *providers.Registry, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = 10 * time.Second
	}
	if opts.IdentityTimeout <= 0 {
		opts.IdentityTimeout = 5 * time.Second
	}
	return &Client{
		registry:        registry,
		httpClient:      httpClient,
		exchangeTimeout: opts.ExchangeTimeout,
		identityTimeout: opts.IdentityTimeout,
	}
}

// ExchangeCode trades an authorization code for tokens with one POST to the
// provider's token endpoint. It never retries: codes are single-use.
func (c *Client) ExchangeCode(ctx context.Context, provider providers.Provider, code, redirectURI, verifier string) (Token, error) {
	if strings.TrimSpace(code) == "" {
		return Token{}, apperr.InvalidCallback("Missing authorization code")
	}
	ep, err := c.registry.Lookup(provider)
	if err != nil {
		return Token{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.exchangeTimeout)
	defer cancel()

	opts := ep.TokenParams()
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := ep.OAuth2Config(redirectURI).Exchange(c.oauthContext(ctx, ep), code, opts...)
	if err != nil {
		return Token{}, c.exchangeError(ep, "token exchange", redirectURI, err)
	}
	return fromOAuth2(ep, tok, time.Now()), nil
}

// Refresh obtains a new access token from a refresh token.
func (c *Client) Refresh(ctx context.Context, provider providers.Provider, refreshToken string) (Token, error) {
	if refreshToken == "" {
		return Token{}, apperr.TokenExchange("No refresh token stored, please reconnect "+string(provider), "", nil)
	}
	ep, err := c.registry.Lookup(provider)
	if err != nil {
		return Token{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.exchangeTimeout)
	defer cancel()

	src := ep.OAuth2Config("").TokenSource(c.oauthContext(ctx, ep), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Token{}, c.exchangeError(ep, "token refresh", "", err)
	}
	out := fromOAuth2(ep, tok, time.Now())
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// FetchIdentity reads the connected account from the provider's user-info
// endpoint with the access token as bearer.
func (c *Client) FetchIdentity(ctx context.Context, provider providers.Provider, accessToken string) (providers.Identity, error) {
	ep, err := c.registry.Lookup(provider)
	if err != nil {
		return providers.Identity{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.identityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.UserInfoURL, nil)
	if err != nil {
		return providers.Identity{}, fmt.Errorf("build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if apperr.IsDeadline(err) {
			return providers.Identity{}, apperr.Timeout("identity fetch", err)
		}
		return providers.Identity{}, fmt.Errorf("user info request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return providers.Identity{}, fmt.Errorf("read user info: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return providers.Identity{}, fmt.Errorf("user info returned %d: %s", resp.StatusCode, util.Diagnostic(body, accessToken))
	}
	return ep.ParseIdentity(body)
}

func (c *Client) oauthContext(ctx context.Context, ep providers.Endpoint) context.Context {
	httpClient := c.httpClient
	if len(ep.ExtraParams) > 0 {
		httpClient = &http.Client{
			Transport: &tokenParamsTransport{
				base:     transportOf(c.httpClient),
				tokenURL: ep.TokenURL,
				params:   ep.ExtraParams,
			},
			Timeout: c.httpClient.Timeout,
		}
	}
	return context.WithValue(ctx, oauth2.HTTPClient, httpClient)
}

func (c *Client) exchangeError(ep providers.Endpoint, op, redirectURI string, err error) error {
	if apperr.IsDeadline(err) {
		return apperr.Timeout(op, err)
	}

	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return apperr.TokenExchange("Failed to reach "+string(ep.Provider), "", errors.New(strings.ReplaceAll(err.Error(), ep.ClientSecret, "[redacted]")))
	}

	detail := util.Diagnostic(retrieveErr.Body, ep.ClientSecret)
	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	cause := fmt.Errorf("%s returned %d (%s)", ep.TokenURL, status, retrieveErr.ErrorCode)

	if isRedirectMismatch(retrieveErr) {
		e := apperr.TokenExchange(fmt.Sprintf("Redirect URI mismatch for %s: %s", ep.Provider, redirectURI), detail, cause)
		e.RedirectMismatch = true
		return e
	}

	message := "Failed to exchange code for token"
	if op == "token refresh" {
		message = "Failed to refresh token for " + string(ep.Provider)
	}
	return apperr.TokenExchange(message, detail, cause)
}

// isRedirectMismatch looks at the error code and description only, never the
// raw body.
func isRedirectMismatch(err *oauth2.RetrieveError) bool {
	if err.ErrorCode == "redirect_uri_mismatch" {
		return true
	}
	desc := strings.ToLower(strings.ReplaceAll(err.ErrorDescription, "_", " "))
	if !strings.Contains(desc, "redirect uri") {
		return false
	}
	for _, marker := range []string{
		"mismatch",
		"does not match",
		"doesn't match",
		"invalid redirect uri",
		"redirect uri is invalid",
		"redirect uri invalid",
	} {
		if strings.Contains(desc, marker) {
			return true
		}
	}
	return false
}

func fromOAuth2(ep providers.Endpoint, tok *oauth2.Token, now time.Time) Token {
	out := Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresIn:    tok.ExpiresIn,
	}
	if out.ExpiresIn <= 0 && !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(tok.Expiry.Sub(now).Round(time.Second) / time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = normalizeScope(scope, ep.ScopeSeparator)
	}
	return out
}

// normalizeScope rewrites a provider scope list to space-delimited form.
func normalizeScope(scope, sep string) string {
	if sep != "" && sep != " " {
		scope = strings.ReplaceAll(scope, sep, " ")
	}
	return strings.Join(strings.Fields(scope), " ")
}
