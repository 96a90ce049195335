// Package token hands out usable provider access tokens, refreshing stored
// grants that are about to expire.
package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/auth/exchange"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/grants"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/logging"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how close to expiry a grant is refreshed.
const DefaultRefreshMargin = 5 * time.Minute

// Manager resolves access tokens for (user, provider) pairs.
type Manager struct {
	grants    grants.Store
	exchanger exchange.Exchanger
	margin    time.Duration
	now       func() time.Time
	group     singleflight.Group
}

func NewManager(store grants.Store, exchanger exchange.Exchanger) *Manager {
	return &Manager{
		grants:    store,
		exchanger: exchanger,
		margin:    DefaultRefreshMargin,
		now:       time.Now,
	}
}

// AccessToken returns a token valid for at least the refresh margin. An
// absent grant is NotConnected; an expired grant that cannot be refreshed is
// a TokenExchange error asking the user to reconnect.
func (m *Manager) AccessToken(ctx context.Context, userID string, provider providers.Provider) (string, error) {
	g, err := m.grants.GetGrant(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if g == nil {
		return "", apperr.NotConnected(string(provider))
	}
	if !g.Expired(m.now(), m.margin) {
		return g.AccessToken, nil
	}

	key := userID + "|" + string(provider)
	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.refresh(ctx, *g)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context, g grants.Grant) (string, error) {
	log := logging.FromContext(ctx).With("user_id", g.UserID, "provider", g.Provider)

	if g.RefreshToken == "" {
		log.Warn("grant expired without refresh token")
		return "", reconnectError(g.Provider, nil)
	}

	tok, err := m.exchanger.Refresh(ctx, g.Provider, g.RefreshToken)
	if err != nil {
		if isPermanentRefreshError(err) {
			log.Warn("refresh token rejected, reconnect required", "error", err)
			return "", reconnectError(g.Provider, err)
		}
		log.Error("refresh failed", "error", err)
		return "", err
	}

	if tok.RefreshToken != g.RefreshToken {
		log.Info("rotating refresh token")
	}
	refreshed := grants.Grant{
		UserID:           g.UserID,
		Provider:         g.Provider,
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		TokenType:        tok.TokenType,
		ExpiresAt:        tok.ExpiresAt(m.now()),
		Scope:            tok.Scope,
		PlatformUserID:   g.PlatformUserID,
		PlatformUsername: g.PlatformUsername,
	}
	if refreshed.Scope == "" {
		refreshed.Scope = g.Scope
	}
	if err := m.grants.UpsertGrant(ctx, refreshed); err != nil {
		return "", err
	}
	log.Info("refreshed access token")
	return tok.AccessToken, nil
}

func reconnectError(provider providers.Provider, cause error) error {
	return apperr.TokenExchange("Access to "+string(provider)+" expired, please reconnect", "", cause)
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		msg += " " + strings.ToLower(appErr.Detail)
	}
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
