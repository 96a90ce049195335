package models

import "time"

// Profile carries the denormalized list of connected platforms. Grants are
// authoritative; this list is a convenience view for the account page.
type Profile struct {
	UserID             string    `gorm:"primaryKey" json:"user_id"`
	ConnectedPlatforms []string  `gorm:"serializer:json;type:text" json:"connected_platforms"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }
