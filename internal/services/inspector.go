package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/appointment-notifier/internal/domain"
	"github.com/tbourn/appointment-notifier/internal/repo"
)

// Inspector serves read-only views of scheduler state to operators.
type Inspector struct {
	DB *gorm.DB
}

// AppointmentView is a snapshot together with its reminders and the
// notices already delivered for it. Dispatches are counted twice over:
// lifecycle notices and fired reminders.
type AppointmentView struct {
	Appointment   domain.AppointmentSnapshot `json:"appointment"`
	Reminders     []domain.PendingReminder   `json:"reminders"`
	Dispatches    []domain.DispatchRecord    `json:"dispatches"`
	NoticesSent   int                        `json:"notices_sent"`
	RemindersSent int                        `json:"reminders_sent"`
}

// Appointment returns the view of id or ErrAppointmentNotFound.
func (s *Inspector) Appointment(ctx context.Context, id string) (*AppointmentView, error) {
	snap, err := repo.GetAppointment(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	rems, err := repo.ListReminders(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	disp, err := repo.ListDispatches(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	v := &AppointmentView{Appointment: *snap, Reminders: rems, Dispatches: disp}
	for _, d := range disp {
		if domain.IsReminderDispatch(d.EventKind) {
			v.RemindersSent++
		} else {
			v.NoticesSent++
		}
	}
	return v, nil
}

// PendingPage returns a page of unsent reminders ordered by fire time and
// the total number of unsent reminders.
func (s *Inspector) PendingPage(ctx context.Context, page, pageSize int) ([]domain.PendingReminder, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountPendingReminders(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.PendingReminder{}, 0, nil
	}

	items, err := repo.ListPendingRemindersPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}
