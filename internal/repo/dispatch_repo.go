// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// DispatchRecord model, the write-once ledger of delivered notifications.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/appointment-notifier/internal/domain"
)

// ErrDuplicate indicates that a dispatch record already exists for the
// given (appointment_id, event_kind) pair.
var ErrDuplicate = errors.New("duplicate")

// DispatchExists reports whether (appointmentID, kind) was already delivered.
func DispatchExists(ctx context.Context, db *gorm.DB, appointmentID, kind string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DispatchRecord{}).
		Where("appointment_id = ? AND event_kind = ?", appointmentID, kind).
		Count(&n).Error
	return n > 0, err
}

// RecordDispatch inserts a record and returns ErrDuplicate on unique violation.
func RecordDispatch(ctx context.Context, db *gorm.DB, appointmentID, kind, channelID string) (*domain.DispatchRecord, error) {
	rec := &domain.DispatchRecord{
		ID:            uuid.NewString(),
		AppointmentID: appointmentID,
		EventKind:     kind,
		ChannelID:     channelID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ListDispatches returns the ledger of one appointment, oldest first.
func ListDispatches(ctx context.Context, db *gorm.DB, appointmentID string) ([]domain.DispatchRecord, error) {
	var out []domain.DispatchRecord
	err := db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
