// Package permissions stores per-user consent for automated capabilities.
// A missing record means the capability is not granted.
package permissions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Type is a capability tag requiring explicit consent.
type Type string

const (
	AIReplyComposer Type = "ai_reply_composer"
	InboxReader     Type = "inbox_reader"
	AISummarization Type = "ai_summarization"
)

var labels = map[Type]string{
	AIReplyComposer: "AI reply composer",
	InboxReader:     "Inbox reader",
	AISummarization: "AI summarization",
}

// Types returns the known capability tags in a stable order.
func Types() []Type {
	return []Type{AIReplyComposer, InboxReader, AISummarization}
}

// ParseType validates a capability tag.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := labels[t]; !ok {
		if raw == "" {
			return "", apperr.InvalidRequest("permissionType is required")
		}
		return "", apperr.InvalidRequest("Unknown permission type: %s", raw)
	}
	return t, nil
}

// Label is the human readable capability name used in error messages.
func (t Type) Label() string {
	if l, ok := labels[t]; ok {
		return l
	}
	return string(t)
}

// Record is one consent entry.
type Record struct {
	UserID         string    `json:"-"`
	PermissionType Type      `json:"permission_type"`
	Granted        bool      `json:"granted"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Gate is consulted before every gated capability runs.
type Gate interface {
	Check(ctx context.Context, userID string, t Type) (bool, error)
	Grant(ctx context.Context, userID string, t Type) error
	Revoke(ctx context.Context, userID string, t Type) error
	List(ctx context.Context, userID string) ([]Record, error)
}

// Require returns a PermissionDenied error unless userID consented to t.
// A failed lookup is returned as is and never treated as granted.
func Require(ctx context.Context, gate Gate, userID string, t Type) error {
	ok, err := gate.Check(ctx, userID, t)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.PermissionDenied(t.Label())
	}
	return nil
}

type GormGate struct {
	db     *gorm.DB
	policy db.Policy
}

func NewGormGate(gdb *gorm.DB, policy db.Policy) *GormGate {
	return &GormGate{db: gdb, policy: policy}
}

func (g *GormGate) Check(ctx context.Context, userID string, t Type) (bool, error) {
	var row models.Permission
	err := g.policy.Read(ctx, "check permission", func(ctx context.Context) error {
		err := g.db.WithContext(ctx).
			Where("user_id = ? AND permission_type = ?", userID, string(t)).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row.Granted = false
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return row.Granted, nil
}

func (g *GormGate) Grant(ctx context.Context, userID string, t Type) error {
	return g.set(ctx, "grant permission", userID, t, true)
}

// Revoke keeps the record with granted=false.
func (g *GormGate) Revoke(ctx context.Context, userID string, t Type) error {
	return g.set(ctx, "revoke permission", userID, t, false)
}

// List returns the stored records of userID ordered by type.
func (g *GormGate) List(ctx context.Context, userID string) ([]Record, error) {
	var rows []models.Permission
	err := g.policy.Read(ctx, "list permissions", func(ctx context.Context) error {
		return g.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("permission_type ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record{
			UserID:         row.UserID,
			PermissionType: Type(row.PermissionType),
			Granted:        row.Granted,
			UpdatedAt:      row.UpdatedAt,
		})
	}
	return records, nil
}

func (g *GormGate) set(ctx context.Context, op, userID string, t Type, granted bool) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.InvalidRequest("userId is required")
	}
	now := time.Now().UTC()
	row := models.Permission{
		ID:             uuid.NewString(),
		UserID:         userID,
		PermissionType: string(t),
		Granted:        granted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return g.policy.Write(ctx, op, func(ctx context.Context) error {
		return g.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "permission_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"granted", "updated_at"}),
		}).Create(&row).Error
	})
}
