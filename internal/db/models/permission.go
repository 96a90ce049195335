package models

import "time"

// Permission records whether a user consented to a capability.
// Revocation keeps the row with Granted=false.
type Permission struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	UserID         string    `gorm:"not null;uniqueIndex:idx_permission_user_type" json:"user_id"`
	PermissionType string    `gorm:"not null;uniqueIndex:idx_permission_user_type" json:"permission_type"`
	Granted        bool      `gorm:"not null;default:false" json:"granted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Permission) TableName() string { return "user_permissions" }
