// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// AppointmentSnapshot model: the last observed state of each appointment.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/appointment-notifier/internal/domain"
)

// GetAppointment returns the snapshot for id or ErrNotFound.
func GetAppointment(ctx context.Context, db *gorm.DB, id string) (*domain.AppointmentSnapshot, error) {
	var s domain.AppointmentSnapshot
	if err := db.WithContext(ctx).Where("appointment_id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// PutAppointment upserts a snapshot. The caller owns merge semantics; every
// column of s is written as given. Timestamps are normalized to UTC.
func PutAppointment(ctx context.Context, db *gorm.DB, s *domain.AppointmentSnapshot) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.ScheduledAt != nil {
		t := s.ScheduledAt.UTC()
		s.ScheduledAt = &t
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "appointment_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"company_id", "contact_key", "client_name", "scheduled_at",
				"service_label", "staff_label", "price_label", "updated_at",
			}),
		}).
		Create(s).Error
}

// DeleteAppointment removes the snapshot for id. Deleting a missing id is not
// an error.
func DeleteAppointment(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("appointment_id = ?", id).Delete(&domain.AppointmentSnapshot{}).Error
}
