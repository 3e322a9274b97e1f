package domain

import (
	"strings"
	"time"
)

// EventKind classifies a normalized upstream change notification.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventCancelled EventKind = "cancelled"
)

// AppointmentEvent is the canonical form of a booking-system change
// notification. Only Kind and AppointmentID are guaranteed; everything else is
// best-effort and may be zero.
type AppointmentEvent struct {
	Kind          EventKind
	AppointmentID string
	CompanyID     string
	ContactKey    string     // canonical phone, "" when the payload had none
	ClientName    string     // best-effort
	ScheduledAt   *time.Time // nil when absent or unparseable
	ServiceLabel  string
	StaffLabel    string
	PriceLabel    string
}

// HasContact reports whether the event carried a usable contact key.
func (e AppointmentEvent) HasContact() bool { return e.ContactKey != "" }

// NoticeKind names a user-visible, dedup-gated notification.
type NoticeKind string

const (
	NoticeCreated     NoticeKind = "created"
	NoticeRescheduled NoticeKind = "rescheduled"
	NoticeCancelled   NoticeKind = "cancelled"
)

// ReminderKind names a configured lead time, e.g. "lead_3d".
type ReminderKind string

// Lead pairs a reminder kind with its lead duration before the appointment.
type Lead struct {
	Kind     ReminderKind
	Duration time.Duration
}

// DayScale reports whether the reminder is at least a day ahead. Day-scale
// reminders render the date; shorter ones render only the time.
func (l Lead) DayScale() bool { return l.Duration >= 24*time.Hour }

// DefaultLeads is the stock lead set: 3 days, 1 day, 2 hours.
func DefaultLeads() []Lead {
	return []Lead{
		{Kind: "lead_3d", Duration: 72 * time.Hour},
		{Kind: "lead_1d", Duration: 24 * time.Hour},
		{Kind: "lead_2h", Duration: 2 * time.Hour},
	}
}

// Dispatch-log event kinds.

// DispatchKindCreated is the dedup key suffix of the "booking created" notice.
const DispatchKindCreated = string(NoticeCreated)

// DispatchKindCancelled is the dedup key suffix of the "cancelled" notice.
const DispatchKindCancelled = string(NoticeCancelled)

// DispatchKindRescheduled returns the dedup kind of a reschedule to newTime.
// The time is part of the key so that moving an appointment twice notifies
// twice, while a redelivered identical update does not.
func DispatchKindRescheduled(newTime time.Time) string {
	return "rescheduled:" + newTime.UTC().Format(time.RFC3339)
}

// DispatchKindReminder returns the dedup kind of a fired reminder. The fire
// time is part of the key so a replan after a reschedule re-arms the kind.
func DispatchKindReminder(kind string, fireAt time.Time) string {
	return "reminder:" + kind + "@" + fireAt.UTC().Format(time.RFC3339)
}

// IsReminderDispatch reports whether a dispatch-log kind belongs to a reminder.
func IsReminderDispatch(kind string) bool { return strings.HasPrefix(kind, "reminder:") }
