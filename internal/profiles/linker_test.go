package profiles

import (
	"context"
	"testing"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db/dbtest"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLinker(t *testing.T) *GormLinker {
	t.Helper()
	return NewGormLinker(dbtest.New(t), db.Policy{Timeout: time.Second, Retries: 1})
}

func TestAddPlatform_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newTestLinker(t)

	require.NoError(t, l.AddPlatform(ctx, "u1", providers.Spotify))
	require.NoError(t, l.AddPlatform(ctx, "u1", providers.TikTok))
	require.NoError(t, l.AddPlatform(ctx, "u1", providers.Spotify))

	list, err := l.ConnectedPlatforms(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []providers.Provider{providers.Spotify, providers.TikTok}, list)
}

func TestRemovePlatform(t *testing.T) {
	ctx := context.Background()
	l := newTestLinker(t)

	require.NoError(t, l.AddPlatform(ctx, "u1", providers.Spotify))
	require.NoError(t, l.AddPlatform(ctx, "u1", providers.YouTube))
	require.NoError(t, l.RemovePlatform(ctx, "u1", providers.Spotify))
	require.NoError(t, l.RemovePlatform(ctx, "u1", providers.Spotify))

	list, err := l.ConnectedPlatforms(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []providers.Provider{providers.YouTube}, list)
}

func TestRemovePlatform_NoProfile(t *testing.T) {
	ctx := context.Background()
	l := newTestLinker(t)

	require.NoError(t, l.RemovePlatform(ctx, "ghost", providers.Instagram))

	list, err := l.ConnectedPlatforms(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConnectedPlatforms_IsolatedPerUser(t *testing.T) {
	ctx := context.Background()
	l := newTestLinker(t)

	require.NoError(t, l.AddPlatform(ctx, "u1", providers.Facebook))

	list, err := l.ConnectedPlatforms(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, list)
}
