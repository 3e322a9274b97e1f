// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// PendingReminder model, the durable reminder queue.
//
// Functions:
//
//   - ReplaceReminders(ctx, db, appointmentID, rems) -> error
//     Deletes every reminder of the appointment and inserts rems, atomically.
//
//   - ListReminders(ctx, db, appointmentID) -> []domain.PendingReminder, error
//     Returns all reminders of one appointment ordered by fire time.
//
//   - ListDueReminders(ctx, db, now, limit) -> []domain.PendingReminder, error
//     Returns unsent reminders with fire_at <= now, oldest first.
//
//   - GetReminder(ctx, db, appointmentID, kind) -> *domain.PendingReminder, error
//     Fetches one reminder, or ErrNotFound.
//
//   - MarkReminderSent(ctx, db, appointmentID, kind, at) -> error
//     Flags a reminder as delivered. Returns ErrNotFound if it is gone.
//
//   - DeleteReminders(ctx, db, appointmentID) -> int64, error
//     Drops every reminder of the appointment.
//
//   - DeleteExpiredReminders(ctx, db, before) -> int64, error
//     Drops reminders (sent or not) whose appointment time is before the cutoff.
//
//   - CountPendingReminders / ListPendingRemindersPage
//     Paginated view of unsent reminders for the admin API.
//
// All timestamps are written and compared in UTC so that the textual time
// encoding used by SQLite orders correctly.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/appointment-notifier/internal/domain"
)

// ReplaceReminders swaps the reminder set of appointmentID for rems inside a
// single transaction, so a concurrent due-scan sees either the old set or the
// new one. An empty rems just clears the appointment's reminders.
func ReplaceReminders(ctx context.Context, db *gorm.DB, appointmentID string, rems []domain.PendingReminder) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("appointment_id = ?", appointmentID).Delete(&domain.PendingReminder{}).Error; err != nil {
			return err
		}
		if len(rems) == 0 {
			return nil
		}
		now := time.Now().UTC()
		for i := range rems {
			rems[i].AppointmentID = appointmentID
			rems[i].FireAt = rems[i].FireAt.UTC()
			rems[i].ScheduledAt = rems[i].ScheduledAt.UTC()
			if rems[i].CreatedAt.IsZero() {
				rems[i].CreatedAt = now
			}
		}
		return tx.Create(&rems).Error
	})
}

// ListReminders returns every reminder of appointmentID ordered by fire time.
func ListReminders(ctx context.Context, db *gorm.DB, appointmentID string) ([]domain.PendingReminder, error) {
	var out []domain.PendingReminder
	err := db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("fire_at ASC, kind ASC").
		Find(&out).Error
	return out, err
}

// ListDueReminders returns unsent reminders whose fire time is at or before
// now, oldest first. A non-positive limit means no limit.
func ListDueReminders(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.PendingReminder, error) {
	var out []domain.PendingReminder
	q := db.WithContext(ctx).
		Where("sent = ? AND fire_at <= ?", false, now.UTC()).
		Order("fire_at ASC, appointment_id ASC, kind ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// GetReminder returns one reminder or ErrNotFound.
func GetReminder(ctx context.Context, db *gorm.DB, appointmentID, kind string) (*domain.PendingReminder, error) {
	var r domain.PendingReminder
	err := db.WithContext(ctx).
		Where("appointment_id = ? AND kind = ?", appointmentID, kind).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkReminderSent sets sent=true and sent_at=at. It returns ErrNotFound when
// the reminder no longer exists (replanned or cancelled in the meantime).
func MarkReminderSent(ctx context.Context, db *gorm.DB, appointmentID, kind string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.PendingReminder{}).
		Where("appointment_id = ? AND kind = ?", appointmentID, kind).
		Updates(map[string]any{"sent": true, "sent_at": at.UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReminders removes every reminder of appointmentID and returns how many
// rows were deleted.
func DeleteReminders(ctx context.Context, db *gorm.DB, appointmentID string) (int64, error) {
	res := db.WithContext(ctx).Where("appointment_id = ?", appointmentID).Delete(&domain.PendingReminder{})
	return res.RowsAffected, res.Error
}

// DeleteExpiredReminders removes reminders, sent or not, whose appointment
// time is strictly before cutoff.
func DeleteExpiredReminders(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("scheduled_at < ?", cutoff.UTC()).Delete(&domain.PendingReminder{})
	return res.RowsAffected, res.Error
}

// CountPendingReminders returns the number of unsent reminders.
func CountPendingReminders(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.PendingReminder{}).Where("sent = ?", false).Count(&total).Error
	return total, err
}

// ListPendingRemindersPage returns a page of unsent reminders ordered by fire time.
func ListPendingRemindersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.PendingReminder, error) {
	var out []domain.PendingReminder
	err := db.WithContext(ctx).
		Where("sent = ?", false).
		Order("fire_at ASC, appointment_id ASC, kind ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
