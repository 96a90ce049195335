// Package pkce keeps PKCE code verifiers between the authorization redirect
// and the callback.
package pkce

import (
	"context"
	"errors"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db/models"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store saves and consumes pending verifiers.
type Store interface {
	Save(ctx context.Context, userID string, provider providers.Provider, verifier string) error
	// Consume returns the verifier and deletes it. A missing or expired
	// verifier is an InvalidCallback error.
	Consume(ctx context.Context, userID string, provider providers.Provider) (string, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

type GormStore struct {
	db     *gorm.DB
	policy db.Policy
	ttl    time.Duration
	now    func() time.Time
}

func NewGormStore(gdb *gorm.DB, policy db.Policy, ttl time.Duration) *GormStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &GormStore{db: gdb, policy: policy, ttl: ttl, now: time.Now}
}

// Save replaces any earlier pending authorization of the same pair.
func (s *GormStore) Save(ctx context.Context, userID string, provider providers.Provider, verifier string) error {
	now := s.now().UTC()
	row := models.PendingAuthorization{
		UserID:       userID,
		Provider:     string(provider),
		CodeVerifier: verifier,
		ExpiresAt:    now.Add(s.ttl),
		CreatedAt:    now,
	}
	return s.policy.Write(ctx, "store pending authorization", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"code_verifier", "expires_at", "created_at"}),
		}).Create(&row).Error
	})
}

func (s *GormStore) Consume(ctx context.Context, userID string, provider providers.Provider) (string, error) {
	var row models.PendingAuthorization
	found := false
	err := s.policy.Write(ctx, "consume pending authorization", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Where("user_id = ? AND provider = ?", userID, string(provider)).First(&row).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				found = false
				return nil
			}
			if err != nil {
				return err
			}
			found = true
			return tx.Where("user_id = ? AND provider = ?", userID, string(provider)).
				Delete(&models.PendingAuthorization{}).Error
		})
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", apperr.InvalidCallback("no pending authorization for %s", provider)
	}
	if !row.ExpiresAt.After(s.now()) {
		return "", apperr.InvalidCallback("authorization for %s expired, please try again", provider)
	}
	return row.CodeVerifier, nil
}

// PurgeExpired deletes every expired pending authorization.
func (s *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	err := s.policy.Write(ctx, "purge pending authorizations", func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UTC()).Delete(&models.PendingAuthorization{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}
