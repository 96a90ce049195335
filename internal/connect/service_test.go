package connect

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/auth/exchange"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/auth/pkce"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db/dbtest"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/grants"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/profiles"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchanger struct {
	token       exchange.Token
	exchangeErr error
	identity    providers.Identity
	identityErr error

	exchangeCalls int
	lastRedirect  string
	lastVerifier  string
	onExchange    func(ctx context.Context)
}

func (f *fakeExchanger) ExchangeCode(ctx context.Context, _ providers.Provider, _ string, redirectURI, verifier string) (exchange.Token, error) {
	f.exchangeCalls++
	f.lastRedirect = redirectURI
	f.lastVerifier = verifier
	if f.onExchange != nil {
		f.onExchange(ctx)
	}
	return f.token, f.exchangeErr
}

func (f *fakeExchanger) FetchIdentity(context.Context, providers.Provider, string) (providers.Identity, error) {
	return f.identity, f.identityErr
}

func (f *fakeExchanger) Refresh(context.Context, providers.Provider, string) (exchange.Token, error) {
	return exchange.Token{}, errors.New("not used")
}

type failingLinker struct {
	profiles.Linker
	calls int
}

func (f *failingLinker) AddPlatform(context.Context, string, providers.Provider) error {
	f.calls++
	return apperr.Storage("update profile", errors.New("profile table locked"))
}

type failingGrants struct {
	grants.Store
}

func (failingGrants) UpsertGrant(context.Context, grants.Grant) error {
	return apperr.Storage("store grant", errors.New("disk full"))
}

type fixture struct {
	svc       *Service
	exchanger *fakeExchanger
	grants    *grants.GormStore
	profiles  *profiles.GormLinker
	pending   *pkce.GormStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.New(t)
	policy := db.Policy{Timeout: time.Second, Retries: 1}

	creds := make(map[providers.Provider]providers.Credentials)
	for _, p := range providers.All() {
		creds[p] = providers.Credentials{ClientID: string(p) + "-id", ClientSecret: string(p) + "-secret"}
	}
	reg, err := providers.NewRegistry(creds)
	require.NoError(t, err)

	f := &fixture{
		exchanger: &fakeExchanger{
			token:    exchange.Token{AccessToken: "tok1", TokenType: "Bearer", ExpiresIn: 3600},
			identity: providers.Identity{PlatformUserID: "sp-1", PlatformUsername: "DJ"},
		},
		grants:   grants.NewGormStore(gdb, policy),
		profiles: profiles.NewGormLinker(gdb, policy),
		pending:  pkce.NewGormStore(gdb, policy, time.Minute),
	}
	f.svc = NewService(reg, f.exchanger, f.grants, f.profiles, f.pending, Config{
		CallbackBaseURL: "https://api.example.com/",
		AppBaseURL:      "https://app.example.com",
	})
	return f
}

func spotifyCallback() CallbackParams {
	return CallbackParams{Code: "validcode", Platform: "spotify", State: "user-42"}
}

func TestConnect_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Connect(ctx, spotifyCallback())
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/account?connected=spotify", res.RedirectURL)
	assert.True(t, res.ProfileUpdated)
	assert.Equal(t, "https://api.example.com/oauth/callback?platform=spotify", f.exchanger.lastRedirect)

	g, err := f.grants.GetGrant(ctx, "user-42", providers.Spotify)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "tok1", g.AccessToken)
	assert.Equal(t, "sp-1", g.PlatformUserID)
	require.NotNil(t, g.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *g.ExpiresAt, 5*time.Second)

	platforms, err := f.profiles.ConnectedPlatforms(ctx, "user-42")
	require.NoError(t, err)
	assert.Equal(t, []providers.Provider{providers.Spotify}, platforms)
}

func TestConnect_IdentityFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.exchanger.identityErr = errors.New("user info 500")

	_, err := f.svc.Connect(context.Background(), spotifyCallback())
	require.NoError(t, err)

	g, err := f.grants.GetGrant(context.Background(), "user-42", providers.Spotify)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Empty(t, g.PlatformUserID)
	assert.Equal(t, "tok1", g.AccessToken)
}

func TestConnect_ProfileFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	linker := &failingLinker{}
	f.svc.profiles = linker

	res, err := f.svc.Connect(context.Background(), spotifyCallback())
	require.NoError(t, err)
	assert.False(t, res.ProfileUpdated)
	assert.Equal(t, 1, linker.calls)

	g, err := f.grants.GetGrant(context.Background(), "user-42", providers.Spotify)
	require.NoError(t, err)
	assert.NotNil(t, g, "grant is authoritative even when the profile lags")
}

func TestConnect_StorageFailureAborts(t *testing.T) {
	f := newFixture(t)
	linker := &failingLinker{}
	f.svc.grants = failingGrants{}
	f.svc.profiles = linker

	_, err := f.svc.Connect(context.Background(), spotifyCallback())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStorage))
	assert.Equal(t, 0, linker.calls, "profile must not be updated without a stored grant")
}

func TestConnect_ExchangeFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.exchanger.exchangeErr = apperr.TokenExchange("Failed to exchange code for token", `{"error":"invalid_grant"}`, nil)

	_, err := f.svc.Connect(context.Background(), spotifyCallback())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTokenExchange))

	g, err := f.grants.GetGrant(context.Background(), "user-42", providers.Spotify)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestConnect_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		params CallbackParams
		target error
		msg    string
	}{
		{name: "missing code", params: CallbackParams{Platform: "spotify", State: "u"}, target: apperr.ErrInvalidCallback, msg: "Missing required callback parameters: code"},
		{name: "missing everything", params: CallbackParams{}, target: apperr.ErrInvalidCallback, msg: "Missing required callback parameters: code, platform, state"},
		{name: "unsupported", params: CallbackParams{Code: "c", Platform: "myspace", State: "u"}, target: apperr.ErrUnsupportedProvider, msg: "Unsupported platform: myspace"},
		{name: "provider error", params: CallbackParams{Platform: "spotify", State: "u", Error: "access_denied", ErrorDescription: "user cancelled"}, target: apperr.ErrInvalidCallback, msg: "Authorization was not granted: user cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Connect(context.Background(), tt.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			assert.Equal(t, tt.msg, err.Error())
			assert.Equal(t, 0, f.exchanger.exchangeCalls)
		})
	}
}

func TestConnect_CancelledDuringExchangeAbandonsPersistence(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	var exchangeCtxErr error
	f.exchanger.onExchange = func(exCtx context.Context) {
		cancel()
		exchangeCtxErr = exCtx.Err()
	}

	_, err := f.svc.Connect(ctx, spotifyCallback())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.Is(err, apperr.ErrStorage))
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "persist grant failed", appErr.Message)
	assert.NoError(t, exchangeCtxErr, "in-flight exchange must not observe the cancellation")

	g, err := f.grants.GetGrant(context.Background(), "user-42", providers.Spotify)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestConnect_ReconnectReplacesGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, spotifyCallback())
	require.NoError(t, err)

	f.exchanger.token = exchange.Token{AccessToken: "tok2"}
	_, err = f.svc.Connect(ctx, spotifyCallback())
	require.NoError(t, err)

	list, err := f.grants.ListGrants(ctx, "user-42")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "tok2", list[0].AccessToken)
	assert.Nil(t, list[0].ExpiresAt)
}

func TestAuthorizeAndConnect_PKCE(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Authorize(ctx, "user-42", "twitter")
	require.NoError(t, err)
	u, err := url.Parse(res.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "user-42", q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "https://api.example.com/oauth/callback?platform=twitter", q.Get("redirect_uri"))

	_, err = f.svc.Connect(ctx, CallbackParams{Code: "c", Platform: "twitter", State: "user-42"})
	require.NoError(t, err)
	assert.NotEmpty(t, f.exchanger.lastVerifier)

	_, err = f.svc.Connect(ctx, CallbackParams{Code: "c", Platform: "twitter", State: "user-42"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidCallback), "verifier is single use")
}

func TestAuthorize_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Authorize(context.Background(), "u", "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))

	_, err = f.svc.Authorize(context.Background(), "u", "myspace")
	assert.True(t, errors.Is(err, apperr.ErrUnsupportedProvider))

	res, err := f.svc.Authorize(context.Background(), "u", "Spotify")
	require.NoError(t, err)
	assert.Equal(t, providers.Spotify, res.Platform)
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, spotifyCallback())
	require.NoError(t, err)

	p, err := f.svc.Disconnect(ctx, "user-42", "spotify")
	require.NoError(t, err)
	assert.Equal(t, providers.Spotify, p)

	_, err = f.svc.Disconnect(ctx, "user-42", "spotify")
	require.NoError(t, err, "disconnect is idempotent")

	g, err := f.grants.GetGrant(ctx, "user-42", providers.Spotify)
	require.NoError(t, err)
	assert.Nil(t, g)
	platforms, err := f.profiles.ConnectedPlatforms(ctx, "user-42")
	require.NoError(t, err)
	assert.Empty(t, platforms)
}

type deleteFailingGrants struct {
	grants.Store
}

func (deleteFailingGrants) DeleteGrant(context.Context, string, providers.Provider) error {
	return apperr.Storage("delete grant", errors.New("disk full"))
}

// removeRecorder notes whether the grant was still stored each time the
// profile entry is removed.
type removeRecorder struct {
	profiles.Linker
	grants       grants.Store
	err          error
	calls        int
	grantPresent []bool
}

func (r *removeRecorder) RemovePlatform(ctx context.Context, userID string, p providers.Provider) error {
	r.calls++
	g, err := r.grants.GetGrant(ctx, userID, p)
	if err != nil {
		return err
	}
	r.grantPresent = append(r.grantPresent, g != nil)
	if r.err != nil {
		return r.err
	}
	return r.Linker.RemovePlatform(ctx, userID, p)
}

func TestDisconnect_DeletesGrantBeforeProfileEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Connect(ctx, spotifyCallback())
	require.NoError(t, err)

	rec := &removeRecorder{Linker: f.profiles, grants: f.grants}
	f.svc.profiles = rec

	_, err = f.svc.Disconnect(ctx, "user-42", "spotify")
	require.NoError(t, err)
	require.Equal(t, 1, rec.calls)
	assert.Equal(t, []bool{false}, rec.grantPresent)
}

func TestDisconnect_GrantDeleteFailureLeavesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Connect(ctx, spotifyCallback())
	require.NoError(t, err)

	rec := &removeRecorder{Linker: f.profiles, grants: f.grants}
	f.svc.profiles = rec
	f.svc.grants = deleteFailingGrants{Store: f.grants}

	_, err = f.svc.Disconnect(ctx, "user-42", "spotify")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStorage))
	assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(err))
	assert.Zero(t, rec.calls)

	platforms, err := f.profiles.ConnectedPlatforms(ctx, "user-42")
	require.NoError(t, err)
	assert.Equal(t, []providers.Provider{providers.Spotify}, platforms)
}

func TestDisconnect_ProfileFailureAfterGrantDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Connect(ctx, spotifyCallback())
	require.NoError(t, err)

	rec := &removeRecorder{
		Linker: f.profiles,
		grants: f.grants,
		err:    apperr.Storage("update profile", errors.New("profile table locked")),
	}
	f.svc.profiles = rec

	_, err = f.svc.Disconnect(ctx, "user-42", "spotify")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStorage))
	assert.Equal(t, 1, rec.calls)

	g, err := f.grants.GetGrant(ctx, "user-42", providers.Spotify)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestDisconnect_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Disconnect(context.Background(), "u", "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))

	_, err = f.svc.Disconnect(context.Background(), "u", "myspace")
	assert.True(t, errors.Is(err, apperr.ErrUnsupportedProvider))
}

func TestConnections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Connect(ctx, spotifyCallback())
	require.NoError(t, err)

	c, err := f.svc.Connections(ctx, "user-42")
	require.NoError(t, err)
	require.Len(t, c.Connections, 1)
	assert.Equal(t, providers.Spotify, c.Connections[0].Platform)
	assert.Equal(t, "DJ", c.Connections[0].PlatformUsername)
	assert.Equal(t, []providers.Provider{providers.Spotify}, c.ConnectedPlatforms)
}

func TestStepString(t *testing.T) {
	assert.Equal(t, "persisting_grant", PersistingGrant.String())
	assert.Equal(t, "failed", Failed.String())
}
