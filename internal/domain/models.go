// Package domain defines the persistence models for contact bindings,
// appointment snapshots, and pending reminders. These types are mapped with
// GORM and form the core data layer of the notification scheduler.
package domain

import (
	"time"
)

// ContactBinding maps a normalized contact key (canonical phone number) to the
// delivery channel the user is reachable on. At most one channel exists per
// contact key; a rebind overwrites the previous channel.
//
// Fields:
//   - ContactKey: canonical phone, e.g. "+79161234567" (primary key).
//   - ChannelID: opaque delivery target (e.g. a chat id); indexed so the
//     history of keys bound to one channel can be listed.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type ContactBinding struct {
	ContactKey string    `json:"contact_key" gorm:"type:varchar(32);primaryKey"`
	ChannelID  string    `json:"channel_id"  gorm:"type:varchar(64);not null;index:idx_binding_channel"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for ContactBinding.
func (ContactBinding) TableName() string { return "bindings" }

// AppointmentSnapshot is the last observed state of an appointment, keyed by
// the booking system's appointment id. It is not a history: every update
// overwrites the previous snapshot.
//
// Label fields are best-effort and may be empty. ScheduledAt is nil when no
// upstream source ever supplied a parseable time.
type AppointmentSnapshot struct {
	AppointmentID string     `json:"appointment_id" gorm:"type:varchar(64);primaryKey"`
	CompanyID     string     `json:"company_id,omitempty" gorm:"type:varchar(64)"`
	ContactKey    string     `json:"contact_key"    gorm:"type:varchar(32);index"`
	ClientName    string     `json:"client_name,omitempty"   gorm:"type:varchar(255)"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	ServiceLabel  string     `json:"service_label,omitempty" gorm:"type:varchar(255)"`
	StaffLabel    string     `json:"staff_label,omitempty"   gorm:"type:varchar(255)"`
	PriceLabel    string     `json:"price_label,omitempty"   gorm:"type:varchar(64)"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for AppointmentSnapshot.
func (AppointmentSnapshot) TableName() string { return "appointments" }

// PendingReminder is a single time-relative reminder awaiting delivery. The
// pair (AppointmentID, Kind) is unique.
//
// Fields:
//   - FireAt: ScheduledAt minus the lead duration of Kind (indexed for the
//     scheduler's due scan).
//   - ScheduledAt: copy of the owning appointment's time, used for cleanup
//     even after the snapshot is gone.
//   - Payload: fully rendered text, ready for the notifier.
//   - Sent: delivery flag; failed deliveries stay false and are retried.
type PendingReminder struct {
	AppointmentID string     `json:"appointment_id" gorm:"type:varchar(64);primaryKey"`
	Kind          string     `json:"kind"           gorm:"type:varchar(32);primaryKey"`
	FireAt        time.Time  `json:"fire_at"        gorm:"not null;index:idx_reminders_due,priority:2"`
	ScheduledAt   time.Time  `json:"scheduled_at"   gorm:"not null;index"`
	ChannelID     string     `json:"channel_id"     gorm:"type:varchar(64);not null"`
	Payload       string     `json:"payload"        gorm:"type:text;not null"`
	Sent          bool       `json:"sent"           gorm:"not null;default:false;index:idx_reminders_due,priority:1"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TableName returns the database table name for PendingReminder.
func (PendingReminder) TableName() string { return "reminders" }
