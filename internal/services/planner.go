package services

import (
	"time"

	"github.com/tbourn/appointment-notifier/internal/domain"
)

// DefaultGrace is the tolerance below which a fire time counts as missed.
const DefaultGrace = 60 * time.Second

// Planner computes the reminder set of an appointment. It is pure apart from
// template lookup and never touches the store.
type Planner struct {
	Leads    []domain.Lead
	Grace    time.Duration
	Renderer *Renderer
}

// Plan returns one reminder per configured lead whose fire time
// (scheduled_at - lead) is later than now+Grace; anything at or before that
// is dropped rather than sent late. A snapshot without a time plans nothing.
// Reminders are returned in lead order.
func (p *Planner) Plan(s *domain.AppointmentSnapshot, channelID string, now time.Time) []domain.PendingReminder {
	if s == nil || s.ScheduledAt == nil || s.ScheduledAt.IsZero() {
		return nil
	}
	at := s.ScheduledAt.UTC()
	cutoff := now.Add(p.Grace)
	msg := MessageFromSnapshot(s)

	out := make([]domain.PendingReminder, 0, len(p.Leads))
	for _, lead := range p.Leads {
		fire := at.Add(-lead.Duration)
		if !fire.After(cutoff) {
			continue
		}
		out = append(out, domain.PendingReminder{
			AppointmentID: s.AppointmentID,
			Kind:          string(lead.Kind),
			FireAt:        fire,
			ScheduledAt:   at,
			ChannelID:     channelID,
			Payload:       p.Renderer.RenderReminder(lead, msg),
		})
	}
	return out
}
