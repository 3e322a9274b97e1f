// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// DispatchRecord marks a user-visible notification as delivered, keyed by
// (appointment_id, event_kind). Presence of a row means "already sent"; rows
// are inserted once and never updated.
//
// EventKind values are "created", "cancelled", "rescheduled:<time>" and
// "reminder:<kind>@<fire_at>".
type DispatchRecord struct {
	ID            string    `json:"id"             gorm:"type:varchar(36);primaryKey"`
	AppointmentID string    `json:"appointment_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_dispatch_appt_kind,priority:1"`
	EventKind     string    `json:"event_kind"     gorm:"type:varchar(96);not null;uniqueIndex:ux_dispatch_appt_kind,priority:2"`
	ChannelID     string    `json:"channel_id"     gorm:"type:varchar(64);not null"`
	CreatedAt     time.Time `json:"created_at"     gorm:"not null;autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (DispatchRecord) TableName() string { return "dispatch_log" }
