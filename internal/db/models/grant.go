package models

import "time"

// Grant stores the OAuth credentials one user granted for one provider.
// At most one row exists per (user_id, provider).
type Grant struct {
	ID               string     `gorm:"primaryKey" json:"id"` // UUID
	UserID           string     `gorm:"not null;uniqueIndex:idx_grant_user_provider" json:"user_id"`
	Provider         string     `gorm:"not null;uniqueIndex:idx_grant_user_provider" json:"provider"`
	AccessToken      string     `gorm:"type:text;not null" json:"-"`
	RefreshToken     string     `gorm:"type:text" json:"-"`
	TokenType        string     `json:"token_type,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Scope            string     `json:"scope,omitempty"`
	PlatformUserID   string     `json:"platform_user_id"`
	PlatformUsername string     `json:"platform_username,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Grant) TableName() string { return "oauth_grants" }
