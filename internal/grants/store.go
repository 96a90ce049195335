// Package grants persists provider OAuth credentials, one grant per
// (user, provider).
package grants

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db/models"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Grant is the domain view of a stored grant.
type Grant struct {
	UserID           string
	Provider         providers.Provider
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresAt        *time.Time
	Scope            string
	PlatformUserID   string
	PlatformUsername string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Expired reports whether the access token expires before now+margin.
// Grants without an expiry never expire.
func (g Grant) Expired(now time.Time, margin time.Duration) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now.Add(margin))
}

// Store is the grant persistence surface used by the connect flow.
type Store interface {
	UpsertGrant(ctx context.Context, g Grant) error
	DeleteGrant(ctx context.Context, userID string, provider providers.Provider) error
	GetGrant(ctx context.Context, userID string, provider providers.Provider) (*Grant, error)
	ListGrants(ctx context.Context, userID string) ([]Grant, error)
}

// GormStore implements Store on gorm.
type GormStore struct {
	db     *gorm.DB
	policy db.Policy
	now    func() time.Time
}

func NewGormStore(gdb *gorm.DB, policy db.Policy) *GormStore {
	return &GormStore{db: gdb, policy: policy, now: time.Now}
}

// every token column is replaced on conflict so a reconnect never keeps stale
// values from the previous grant.
var upsertColumns = []string{
	"access_token",
	"refresh_token",
	"token_type",
	"expires_at",
	"scope",
	"platform_user_id",
	"platform_username",
	"updated_at",
}

// UpsertGrant creates or wholly replaces the grant for (g.UserID, g.Provider).
func (s *GormStore) UpsertGrant(ctx context.Context, g Grant) error {
	if strings.TrimSpace(g.UserID) == "" {
		return apperr.InvalidRequest("user id is required")
	}
	if g.AccessToken == "" {
		return apperr.InvalidRequest("access token is required")
	}

	now := s.now().UTC()
	row := models.Grant{
		ID:               uuid.NewString(),
		UserID:           g.UserID,
		Provider:         string(g.Provider),
		AccessToken:      g.AccessToken,
		RefreshToken:     g.RefreshToken,
		TokenType:        g.TokenType,
		ExpiresAt:        g.ExpiresAt,
		Scope:            g.Scope,
		PlatformUserID:   g.PlatformUserID,
		PlatformUsername: g.PlatformUsername,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	return s.policy.Write(ctx, "store grant", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(&row).Error
	})
}

// DeleteGrant removes the grant. Deleting an absent grant succeeds.
func (s *GormStore) DeleteGrant(ctx context.Context, userID string, provider providers.Provider) error {
	return s.policy.Write(ctx, "delete grant", func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("user_id = ? AND provider = ?", userID, string(provider)).
			Delete(&models.Grant{}).Error
	})
}

// GetGrant returns the grant or nil when none exists.
func (s *GormStore) GetGrant(ctx context.Context, userID string, provider providers.Provider) (*Grant, error) {
	var row models.Grant
	found := true
	err := s.policy.Read(ctx, "load grant", func(ctx context.Context) error {
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND provider = ?", userID, string(provider)).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	g := fromModel(row)
	return &g, nil
}

// ListGrants returns every grant of userID ordered by provider.
func (s *GormStore) ListGrants(ctx context.Context, userID string) ([]Grant, error) {
	var rows []models.Grant
	err := s.policy.Read(ctx, "list grants", func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("provider ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	result := make([]Grant, 0, len(rows))
	for _, row := range rows {
		result = append(result, fromModel(row))
	}
	return result, nil
}

func fromModel(row models.Grant) Grant {
	return Grant{
		UserID:           row.UserID,
		Provider:         providers.Provider(row.Provider),
		AccessToken:      row.AccessToken,
		RefreshToken:     row.RefreshToken,
		TokenType:        row.TokenType,
		ExpiresAt:        row.ExpiresAt,
		Scope:            row.Scope,
		PlatformUserID:   row.PlatformUserID,
		PlatformUsername: row.PlatformUsername,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}
