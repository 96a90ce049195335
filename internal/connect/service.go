// Package connect orchestrates linking and unlinking provider accounts: the
// authorization start, the callback state machine and disconnection.
package connect

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/auth/exchange"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/auth/pkce"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/grants"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/logging"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/profiles"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"golang.org/x/oauth2"
)

// CallbackPath is the route providers redirect back to.
const CallbackPath = "/oauth/callback"

// Step is a state of the callback state machine.
type Step int

const (
	ValidatingParams Step = iota
	ExchangingToken
	FetchingIdentity
	PersistingGrant
	UpdatingProfile
	Redirecting
	Failed
)

func (s Step) String() string {
	switch s {
	case ValidatingParams:
		return "validating_params"
	case ExchangingToken:
		return "exchanging_token"
	case FetchingIdentity:
		return "fetching_identity"
	case PersistingGrant:
		return "persisting_grant"
	case UpdatingProfile:
		return "updating_profile"
	case Redirecting:
		return "redirecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// CallbackParams are the query parameters of a provider redirect.
type CallbackParams struct {
	Code     string
	Platform string
	// State carries the acting user id.
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult is the outcome of a successful callback.
type CallbackResult struct {
	Provider    providers.Provider
	RedirectURL string
	// ProfileUpdated is false when the grant was stored but the profile list
	// could not be updated.
	ProfileUpdated bool
}

// Connection is the token-free view of one stored grant.
type Connection struct {
	Platform         providers.Provider `json:"platform"`
	PlatformUserID   string             `json:"platform_user_id"`
	PlatformUsername string             `json:"platform_username,omitempty"`
	Scope            string             `json:"scope,omitempty"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	ConnectedAt      time.Time          `json:"connected_at"`
}

// Connections lists a user's grants next to the denormalized profile list.
type Connections struct {
	Connections        []Connection         `json:"connections"`
	ConnectedPlatforms []providers.Provider `json:"connected_platforms"`
}

// Config holds the base URLs the service builds redirects from.
type Config struct {
	CallbackBaseURL string
	AppBaseURL      string
}

type Service struct {
	registry  *providers.Registry
	exchanger exchange.Exchanger
	grants    grants.Store
	profiles  profiles.Linker
	pending   pkce.Store
	cfg       Config
	now       func() time.Time
}

func NewService(
	registry *providers.Registry,
	exchanger exchange.Exchanger,
	grantStore grants.Store,
	linker profiles.Linker,
	pending pkce.Store,
	cfg Config,
) *Service {
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")
	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")
	return &Service{
		registry:  registry,
		exchanger: exchanger,
		grants:    grantStore,
		profiles:  linker,
		pending:   pending,
		cfg:       cfg,
		now:       time.Now,
	}
}

// RedirectURI is the callback URL presented to provider p on both legs of
// the flow. It depends only on configuration and p.
func (s *Service) RedirectURI(p providers.Provider) string {
	return s.cfg.CallbackBaseURL + CallbackPath + "?platform=" + url.QueryEscape(string(p))
}

// SuccessURL is where the browser lands after connecting p.
func (s *Service) SuccessURL(p providers.Provider) string {
	return s.cfg.AppBaseURL + "/account?connected=" + url.QueryEscape(string(p))
}

// AuthorizeResult is the consent URL for one provider.
type AuthorizeResult struct {
	URL      string             `json:"url"`
	Platform providers.Provider `json:"platform"`
}

// Authorize builds the consent page URL for userID. PKCE providers get a
// fresh verifier stored until the callback consumes it.
func (s *Service) Authorize(ctx context.Context, userID, platform string) (AuthorizeResult, error) {
	if strings.TrimSpace(platform) == "" {
		return AuthorizeResult{}, apperr.InvalidRequest("platform is required")
	}
	ep, err := s.registry.LookupName(platform)
	if err != nil {
		return AuthorizeResult{}, err
	}

	var opts []oauth2.AuthCodeOption
	if ep.PKCE {
		if n, err := s.pending.PurgeExpired(ctx); err != nil {
			logging.FromContext(ctx).Warn("failed to purge expired pending authorizations", "error", err)
		} else if n > 0 {
			logging.FromContext(ctx).Debug("purged expired pending authorizations", "count", n)
		}

		verifier := oauth2.GenerateVerifier()
		if err := s.pending.Save(ctx, userID, ep.Provider, verifier); err != nil {
			return AuthorizeResult{}, err
		}
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	return AuthorizeResult{
		URL:      ep.AuthCodeURL(s.RedirectURI(ep.Provider), userID, opts...),
		Platform: ep.Provider,
	}, nil
}

// Connect runs the callback state machine. Any returned error leaves the
// machine in Failed; no redirect is issued in that case.
func (s *Service) Connect(ctx context.Context, params CallbackParams) (CallbackResult, error) {
	m := &machine{svc: s, params: params, log: logging.FromContext(ctx)}
	return m.run(ctx)
}

type machine struct {
	svc    *Service
	params CallbackParams
	log    *slog.Logger
	step   Step

	endpoint providers.Endpoint
	userID   string
	token    exchange.Token
	identity providers.Identity
	result   CallbackResult
}

func (m *machine) enter(step Step) {
	m.step = step
	m.log.Debug("oauth callback step", "step", step.String(), "platform", m.endpoint.Provider)
}

func (m *machine) fail(err error) (CallbackResult, error) {
	from := m.step
	m.step = Failed
	m.log.Warn("oauth callback failed",
		"step", from.String(),
		"platform", m.params.Platform,
		"user_id", m.userID,
		"kind", apperr.KindOf(err),
		"error", err,
	)
	return CallbackResult{}, err
}

func (m *machine) run(ctx context.Context) (CallbackResult, error) {
	m.enter(ValidatingParams)
	if err := m.validate(); err != nil {
		return m.fail(err)
	}

	verifier := ""
	if m.endpoint.PKCE {
		v, err := m.svc.pending.Consume(ctx, m.userID, m.endpoint.Provider)
		if err != nil {
			return m.fail(err)
		}
		verifier = v
	}

	m.enter(ExchangingToken)
	// The provider call may already have side effects upstream, so it is not
	// bound to the inbound request's cancellation.
	tok, err := m.svc.exchanger.ExchangeCode(context.WithoutCancel(ctx), m.endpoint.Provider, m.params.Code, m.svc.RedirectURI(m.endpoint.Provider), verifier)
	if err != nil {
		return m.fail(err)
	}
	m.token = tok

	m.enter(FetchingIdentity)
	identity, err := m.svc.exchanger.FetchIdentity(ctx, m.endpoint.Provider, tok.AccessToken)
	if err != nil {
		m.log.Warn("identity fetch failed, continuing without platform identity",
			"platform", m.endpoint.Provider, "error", err)
	} else {
		m.identity = identity
	}

	m.enter(PersistingGrant)
	if err := ctx.Err(); err != nil {
		if apperr.IsDeadline(err) {
			return m.fail(apperr.Timeout("oauth callback", err))
		}
		return m.fail(apperr.Storage("persist grant", fmt.Errorf("callback abandoned by client: %w", err)))
	}
	if err := m.svc.grants.UpsertGrant(ctx, m.grant()); err != nil {
		return m.fail(err)
	}

	m.enter(UpdatingProfile)
	m.result.ProfileUpdated = true
	if err := m.svc.profiles.AddPlatform(context.WithoutCancel(ctx), m.userID, m.endpoint.Provider); err != nil {
		m.result.ProfileUpdated = false
		m.log.Error("grant stored but profile update failed",
			"user_id", m.userID, "platform", m.endpoint.Provider, "error", err)
	}

	m.enter(Redirecting)
	m.result.Provider = m.endpoint.Provider
	m.result.RedirectURL = m.svc.SuccessURL(m.endpoint.Provider)
	m.log.Info("platform connected", "user_id", m.userID, "platform", m.endpoint.Provider)
	return m.result, nil
}

func (m *machine) validate() error {
	p := m.params
	if p.Error != "" {
		reason := p.ErrorDescription
		if reason == "" {
			reason = p.Error
		}
		return apperr.InvalidCallback("Authorization was not granted: %s", reason)
	}

	var missing []string
	if strings.TrimSpace(p.Code) == "" {
		missing = append(missing, "code")
	}
	if strings.TrimSpace(p.Platform) == "" {
		missing = append(missing, "platform")
	}
	if strings.TrimSpace(p.State) == "" {
		missing = append(missing, "state")
	}
	if len(missing) > 0 {
		return apperr.InvalidCallback("Missing required callback parameters: %s", strings.Join(missing, ", "))
	}

	ep, err := m.svc.registry.LookupName(p.Platform)
	if err != nil {
		return err
	}
	m.endpoint = ep
	m.userID = strings.TrimSpace(p.State)
	return nil
}

func (m *machine) grant() grants.Grant {
	return grants.Grant{
		UserID:           m.userID,
		Provider:         m.endpoint.Provider,
		AccessToken:      m.token.AccessToken,
		RefreshToken:     m.token.RefreshToken,
		TokenType:        m.token.TokenType,
		ExpiresAt:        m.token.ExpiresAt(m.svc.now()),
		Scope:            m.token.Scope,
		PlatformUserID:   m.identity.PlatformUserID,
		PlatformUsername: m.identity.PlatformUsername,
	}
}

// Disconnect deletes the grant and then removes the profile entry.
// Disconnecting a platform that is not connected succeeds.
func (s *Service) Disconnect(ctx context.Context, userID, platform string) (providers.Provider, error) {
	if strings.TrimSpace(platform) == "" {
		return "", apperr.InvalidRequest("platform is required")
	}
	p, err := providers.Parse(platform)
	if err != nil {
		return "", err
	}

	log := logging.FromContext(ctx).With("user_id", userID, "platform", p)
	if err := s.grants.DeleteGrant(ctx, userID, p); err != nil {
		log.Error("failed to delete grant", "error", err)
		return "", err
	}
	if err := s.profiles.RemovePlatform(ctx, userID, p); err != nil {
		log.Error("grant deleted but profile update failed", "error", err)
		return "", err
	}
	log.Info("platform disconnected")
	return p, nil
}

// Connections returns the user's grants without tokens.
func (s *Service) Connections(ctx context.Context, userID string) (Connections, error) {
	list, err := s.grants.ListGrants(ctx, userID)
	if err != nil {
		return Connections{}, err
	}
	platforms, err := s.profiles.ConnectedPlatforms(ctx, userID)
	if err != nil {
		return Connections{}, err
	}

	out := Connections{
		Connections:        make([]Connection, 0, len(list)),
		ConnectedPlatforms: platforms,
	}
	for _, g := range list {
		out.Connections = append(out.Connections, Connection{
			Platform:         g.Provider,
			PlatformUserID:   g.PlatformUserID,
			PlatformUsername: g.PlatformUsername,
			Scope:            g.Scope,
			ExpiresAt:        g.ExpiresAt,
			ConnectedAt:      g.UpdatedAt,
		})
	}
	return out, nil
}
