package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier delivers rendered text to a channel. Implementations must honour
// ctx cancellation.
type Notifier interface {
	Send(ctx context.Context, channelID, text string) error
}

// Escalation reasons.
const (
	ReasonUnboundContact     = "unbound_contact"
	ReasonNoContact          = "no_contact"
	ReasonUnknownAppointment = "unknown_appointment"
	ReasonDispatchFailed     = "dispatch_failed"
)

// OperatorSink reports events that need a human. It logs every escalation and,
// when ChannelID is set, also sends a short text there through Notifier.
// Escalation never fails from the caller's point of view.
type OperatorSink struct {
	Notifier  Notifier
	ChannelID string
	Timeout   time.Duration
}

// Escalate records one escalation. detail may be empty.
func (o *OperatorSink) Escalate(ctx context.Context, reason, appointmentID, detail string) {
	operatorEscalations.WithLabelValues(reason).Inc()
	log.Warn().
		Str("reason", reason).
		Str("appointment_id", appointmentID).
		Str("detail", detail).
		Msg("operator escalation")

	if o == nil || o.Notifier == nil || o.ChannelID == "" {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s", reason)
	if appointmentID != "" {
		fmt.Fprintf(&b, "\nзапись: %s", appointmentID)
	}
	if detail != "" {
		fmt.Fprintf(&b, "\n%s", detail)
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := o.Notifier.Send(cctx, o.ChannelID, b.String()); err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("operator notification failed")
	}
}

// maskPhone keeps the last four digits of a contact key for logs.
func maskPhone(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
