// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ContactBinding model (contact key → delivery channel).
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - UpsertBinding(ctx, db, contactKey, channelID) -> *domain.ContactBinding, error
//     Inserts a binding or overwrites the channel of an existing one.
//
//   - GetBinding(ctx, db, contactKey) -> *domain.ContactBinding, error
//     Fetches a binding by contact key, or ErrNotFound if missing.
//
//   - ListBindingsByChannel(ctx, db, channelID) -> []domain.ContactBinding, error
//     Returns every contact key currently bound to a channel.
//
// Usage:
//
//	b, err := repo.GetBinding(ctx, db, "+79161234567")
//	if errors.Is(err, repo.ErrNotFound) {
//	    // contact has not shared a phone yet
//	}
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/appointment-notifier/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertBinding stores contactKey → channelID. The last write wins: an
// existing binding for contactKey keeps its CreatedAt and gets the new channel.
func UpsertBinding(ctx context.Context, db *gorm.DB, contactKey, channelID string) (*domain.ContactBinding, error) {
	now := time.Now().UTC()
	b := &domain.ContactBinding{
		ContactKey: contactKey,
		ChannelID:  channelID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contact_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel_id", "updated_at"}),
		}).
		Create(b).Error
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBinding returns the binding for contactKey or ErrNotFound.
func GetBinding(ctx context.Context, db *gorm.DB, contactKey string) (*domain.ContactBinding, error) {
	var b domain.ContactBinding
	if err := db.WithContext(ctx).Where("contact_key = ?", contactKey).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBindingsByChannel returns the contact keys bound to channelID, oldest first.
func ListBindingsByChannel(ctx context.Context, db *gorm.DB, channelID string) ([]domain.ContactBinding, error) {
	var out []domain.ContactBinding
	err := db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at ASC, contact_key ASC").
		Find(&out).Error
	return out, err
}
