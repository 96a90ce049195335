package models

import "time"

// PendingAuthorization holds the PKCE verifier between the authorization
// redirect and the callback. It is consumed once.
type PendingAuthorization struct {
	UserID       string    `gorm:"primaryKey"`
	Provider     string    `gorm:"primaryKey"`
	CodeVerifier string    `gorm:"not null"`
	ExpiresAt    time.Time `gorm:"index"`
	CreatedAt    time.Time
}

func (PendingAuthorization) TableName() string { return "pending_authorizations" }

// All lists every model migrated at startup.
func All() []any {
	return []any{&Grant{}, &Profile{}, &Permission{}, &PendingAuthorization{}}
}
