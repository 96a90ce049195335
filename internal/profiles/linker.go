// Package profiles maintains the denormalized list of connected platforms on
// the user profile.
package profiles

import (
	"context"
	"errors"
	"slices"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db/models"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"gorm.io/gorm"
)

// Linker updates the connected-platforms list. Both mutations are
// idempotent and keep the list free of duplicates.
type Linker interface {
	AddPlatform(ctx context.Context, userID string, provider providers.Provider) error
	RemovePlatform(ctx context.Context, userID string, provider providers.Provider) error
	ConnectedPlatforms(ctx context.Context, userID string) ([]providers.Provider, error)
}

type GormLinker struct {
	db     *gorm.DB
	policy db.Policy
}

func NewGormLinker(gdb *gorm.DB, policy db.Policy) *GormLinker {
	return &GormLinker{db: gdb, policy: policy}
}

func (l *GormLinker) AddPlatform(ctx context.Context, userID string, provider providers.Provider) error {
	return l.policy.Write(ctx, "update profile", func(ctx context.Context) error {
		return l.mutate(ctx, userID, func(list []string) []string {
			if slices.Contains(list, string(provider)) {
				return list
			}
			return append(list, string(provider))
		})
	})
}

func (l *GormLinker) RemovePlatform(ctx context.Context, userID string, provider providers.Provider) error {
	return l.policy.Write(ctx, "update profile", func(ctx context.Context) error {
		return l.mutate(ctx, userID, func(list []string) []string {
			return slices.DeleteFunc(list, func(p string) bool { return p == string(provider) })
		})
	})
}

// ConnectedPlatforms returns the list in insertion order. A user without a
// profile row has no connected platforms.
func (l *GormLinker) ConnectedPlatforms(ctx context.Context, userID string) ([]providers.Provider, error) {
	var profile models.Profile
	err := l.policy.Read(ctx, "load profile", func(ctx context.Context) error {
		err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	result := make([]providers.Provider, 0, len(profile.ConnectedPlatforms))
	for _, p := range profile.ConnectedPlatforms {
		result = append(result, providers.Provider(p))
	}
	return result, nil
}

func (l *GormLinker) mutate(ctx context.Context, userID string, change func([]string) []string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile models.Profile
		exists := true
		err := tx.Where("user_id = ?", userID).First(&profile).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			profile = models.Profile{UserID: userID}
			exists = false
		case err != nil:
			return err
		}

		before := slices.Clone(profile.ConnectedPlatforms)
		profile.ConnectedPlatforms = change(profile.ConnectedPlatforms)
		if profile.ConnectedPlatforms == nil {
			profile.ConnectedPlatforms = []string{}
		}
		if exists && slices.Equal(before, profile.ConnectedPlatforms) {
			return nil
		}
		return tx.Save(&profile).Error
	})
}
