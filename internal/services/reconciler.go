// Package services – Reconciler
//
// This file implements Reconciler, the orchestrator that turns normalized
// booking-system events into at most one user-visible notice per logical
// change and keeps the snapshot and reminder stores in step:
//
//	snapshot | event     | action
//	---------+-----------+----------------------------------------------------
//	absent   | created   | resolve channel, store snapshot + reminders, notify
//	present  | updated   | merge non-empty fields; replan + notify on new time
//	any      | cancelled | drop reminders, notify once, drop snapshot
//	absent   | updated   | fetch detail; adopt as created or escalate
//
// Every notice is gated by the dispatch log: checked before sending and
// recorded only after a successful send, so a failed notice can be retried by
// a redelivered event. Per-event problems (bad payload, unbound contact,
// transport failure) are escalated to the operator sink and never returned;
// only storage and lock failures propagate.
//
// Observability: HandleEvent is OpenTelemetry-instrumented with the
// appointment id and event kind.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/appointment-notifier/internal/domain"
	"github.com/tbourn/appointment-notifier/internal/keylock"
	"github.com/tbourn/appointment-notifier/internal/normalize"
	"github.com/tbourn/appointment-notifier/internal/repo"
)

// DetailFetcher looks up the full current record of an appointment in the
// booking system. Implementations return an error for missing records.
type DetailFetcher interface {
	FetchRecord(ctx context.Context, companyID, appointmentID string) (map[string]any, error)
}

// Outcome summarizes what HandleEvent did with an event.
type Outcome string

const (
	OutcomeNotified  Outcome = "notified"  // a notice was delivered
	OutcomeUpdated   Outcome = "updated"   // state changed, no notice due
	OutcomeDuplicate Outcome = "duplicate" // notice already delivered earlier
	OutcomeEscalated Outcome = "escalated" // handed to the operator
	OutcomeIgnored   Outcome = "ignored"   // stale event for a finished appointment
)

// Reconciler applies appointment events.
type Reconciler struct {
	DB         *gorm.DB
	Locks      keylock.Locker
	Normalizer normalize.Normalizer
	Directory  *Directory
	Planner    *Planner
	Renderer   *Renderer
	Notifier   Notifier
	Operator   *OperatorSink

	// Optional booking-system lookup for events that lack a contact or time.
	Fetcher          DetailFetcher
	DefaultCompanyID string

	// DispatchTimeout bounds each delivery attempt.
	DispatchTimeout time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Handle normalizes raw and applies it. Malformed payloads are escalated and
// reported as OutcomeEscalated with a nil error.
func (r *Reconciler) Handle(ctx context.Context, raw map[string]any) (Outcome, error) {
	ev, err := r.Normalizer.Normalize(raw)
	if err != nil {
		var f *normalize.Failure
		reason := "normalization_failed"
		if errors.As(err, &f) {
			reason = f.Reason
		}
		r.Operator.Escalate(ctx, reason, ev.AppointmentID, err.Error())
		return OutcomeEscalated, nil
	}
	return r.HandleEvent(ctx, ev)
}

// HandleEvent applies one normalized event under the appointment's lock.
func (r *Reconciler) HandleEvent(ctx context.Context, ev domain.AppointmentEvent) (Outcome, error) {
	ctx, span := otel.Tracer("services/Reconciler").Start(ctx, "HandleEvent",
		trace.WithAttributes(
			attribute.String("appointment.id", ev.AppointmentID),
			attribute.String("event.kind", string(ev.Kind)),
		),
	)
	defer span.End()

	unlock, err := r.Locks.Lock(ctx, ev.AppointmentID)
	if err != nil {
		span.SetStatus(codes.Error, "lock")
		return "", fmt.Errorf("lock appointment %s: %w", ev.AppointmentID, err)
	}
	defer unlock()

	snap, err := repo.GetAppointment(ctx, r.DB, ev.AppointmentID)
	if errors.Is(err, repo.ErrNotFound) {
		snap, err = nil, nil
	}
	if err != nil {
		span.SetStatus(codes.Error, "load snapshot")
		return "", err
	}

	var out Outcome
	switch ev.Kind {
	case domain.EventCreated:
		if snap == nil {
			out, err = r.onCreated(ctx, ev)
		} else {
			out, err = r.onUpdated(ctx, snap, ev, true)
		}
	case domain.EventUpdated:
		if snap == nil {
			out, err = r.onUnknownUpdated(ctx, ev)
		} else {
			out, err = r.onUpdated(ctx, snap, ev, false)
		}
	case domain.EventCancelled:
		out, err = r.onCancelled(ctx, snap, ev)
	default:
		r.Operator.Escalate(ctx, normalize.ReasonUnknownKind, ev.AppointmentID, string(ev.Kind))
		out = OutcomeEscalated
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage")
		return "", err
	}
	span.SetAttributes(attribute.String("outcome", string(out)))
	log.Info().
		Str("appointment_id", ev.AppointmentID).
		Str("kind", string(ev.Kind)).
		Str("outcome", string(out)).
		Msg("event reconciled")
	return out, nil
}

// onCreated handles the first sighting of an appointment.
func (r *Reconciler) onCreated(ctx context.Context, ev domain.AppointmentEvent) (Outcome, error) {
	// A created event arriving after the cancellation was delivered is stale.
	if done, err := repo.DispatchExists(ctx, r.DB, ev.AppointmentID, domain.DispatchKindCancelled); err != nil {
		return "", err
	} else if done {
		return OutcomeIgnored, nil
	}

	if !ev.HasContact() || ev.ScheduledAt == nil {
		ev = r.enrich(ctx, ev)
	}
	if !ev.HasContact() {
		r.Operator.Escalate(ctx, ReasonNoContact, ev.AppointmentID, "event carries no phone and detail lookup did not supply one")
		return OutcomeEscalated, nil
	}
	channelID, ok, err := r.Directory.Resolve(ctx, ev.ContactKey)
	if err != nil {
		return "", err
	}
	if !ok {
		r.escalateUnbound(ctx, ev.AppointmentID, ev.ContactKey)
		return OutcomeEscalated, nil
	}

	snap := snapshotFromEvent(ev)
	if err := r.storeAndPlan(ctx, snap, channelID); err != nil {
		return "", err
	}
	return r.deliverOnce(ctx, snap.AppointmentID, domain.DispatchKindCreated, channelID,
		TemplateCreated, MessageFromSnapshot(snap))
}

// onUpdated merges ev into a known appointment. fromCreated marks a created
// event for an appointment that already has a snapshot (a redelivery, or a
// retry after a failed created notice).
func (r *Reconciler) onUpdated(ctx context.Context, snap *domain.AppointmentSnapshot, ev domain.AppointmentEvent, fromCreated bool) (Outcome, error) {
	prev := *snap
	merged := mergeSnapshot(snap, ev)
	timeChanged := ev.ScheduledAt != nil &&
		(prev.ScheduledAt == nil || !prev.ScheduledAt.Equal(*ev.ScheduledAt))

	createdPending := false
	if fromCreated {
		done, err := repo.DispatchExists(ctx, r.DB, merged.AppointmentID, domain.DispatchKindCreated)
		if err != nil {
			return "", err
		}
		createdPending = !done
	}

	if !timeChanged && !createdPending {
		if err := repo.PutAppointment(ctx, r.DB, merged); err != nil {
			return "", err
		}
		if fromCreated {
			return OutcomeDuplicate, nil
		}
		return OutcomeUpdated, nil
	}

	channelID, ok, err := r.Directory.Resolve(ctx, merged.ContactKey)
	if err != nil {
		return "", err
	}
	if !ok {
		// Leave state untouched so a redelivery after binding still sees the diff.
		r.escalateUnbound(ctx, merged.AppointmentID, merged.ContactKey)
		return OutcomeEscalated, nil
	}

	if timeChanged {
		if err := r.storeAndPlan(ctx, merged, channelID); err != nil {
			return "", err
		}
	} else if err := repo.PutAppointment(ctx, r.DB, merged); err != nil {
		return "", err
	}

	switch {
	case createdPending:
		return r.deliverOnce(ctx, merged.AppointmentID, domain.DispatchKindCreated, channelID,
			TemplateCreated, MessageFromSnapshot(merged))
	case prev.ScheduledAt == nil:
		// The time became known for the first time; nothing was promised before.
		return OutcomeUpdated, nil
	default:
		msg := MessageFromSnapshot(merged)
		msg.OldAt = prev.ScheduledAt
		return r.deliverOnce(ctx, merged.AppointmentID, domain.DispatchKindRescheduled(*merged.ScheduledAt),
			channelID, TemplateRescheduled, msg)
	}
}

// onUnknownUpdated handles an update for an appointment never seen before.
// When the booking system still knows the record, it is adopted as created.
func (r *Reconciler) onUnknownUpdated(ctx context.Context, ev domain.AppointmentEvent) (Outcome, error) {
	if done, err := repo.DispatchExists(ctx, r.DB, ev.AppointmentID, domain.DispatchKindCancelled); err != nil {
		return "", err
	} else if done {
		return OutcomeIgnored, nil
	}
	ev = r.enrich(ctx, ev)
	if !ev.HasContact() || ev.ScheduledAt == nil {
		r.Operator.Escalate(ctx, ReasonUnknownAppointment, ev.AppointmentID, "update for an unknown appointment could not be resolved")
		return OutcomeEscalated, nil
	}
	return r.onCreated(ctx, ev)
}

// onCancelled drops the reminders, delivers the cancelled notice once and
// removes the snapshot after the notice went out.
func (r *Reconciler) onCancelled(ctx context.Context, snap *domain.AppointmentSnapshot, ev domain.AppointmentEvent) (Outcome, error) {
	id := ev.AppointmentID

	done, err := repo.DispatchExists(ctx, r.DB, id, domain.DispatchKindCancelled)
	if err != nil {
		return "", err
	}
	if done {
		err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := repo.DeleteReminders(ctx, tx, id); err != nil {
				return err
			}
			return repo.DeleteAppointment(ctx, tx, id)
		})
		if err != nil {
			return "", err
		}
		return OutcomeDuplicate, nil
	}

	if _, err := repo.DeleteReminders(ctx, r.DB, id); err != nil {
		return "", err
	}

	var target *domain.AppointmentSnapshot
	if snap != nil {
		target = mergeSnapshot(snap, ev)
	} else {
		if !ev.HasContact() || ev.ScheduledAt == nil {
			ev = r.enrich(ctx, ev)
		}
		if !ev.HasContact() {
			r.Operator.Escalate(ctx, ReasonUnknownAppointment, id, "cancellation for an unknown appointment could not be resolved")
			return OutcomeEscalated, nil
		}
		target = snapshotFromEvent(ev)
	}

	channelID, ok, err := r.Directory.Resolve(ctx, target.ContactKey)
	if err != nil {
		return "", err
	}
	if !ok {
		r.escalateUnbound(ctx, id, target.ContactKey)
		return OutcomeEscalated, nil
	}

	text := r.Renderer.Render(TemplateCancelled, MessageFromSnapshot(target))
	if err := r.send(ctx, domain.NoticeCancelled, channelID, text); err != nil {
		r.Operator.Escalate(ctx, ReasonDispatchFailed, id, err.Error())
		return OutcomeEscalated, nil
	}
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.RecordDispatch(ctx, tx, id, domain.DispatchKindCancelled, channelID); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			return err
		}
		return repo.DeleteAppointment(ctx, tx, id)
	})
	if err != nil {
		return "", err
	}
	return OutcomeNotified, nil
}

// storeAndPlan writes the snapshot and its full reminder set atomically.
func (r *Reconciler) storeAndPlan(ctx context.Context, snap *domain.AppointmentSnapshot, channelID string) error {
	rems := r.Planner.Plan(snap, channelID, r.now())
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.PutAppointment(ctx, tx, snap); err != nil {
			return err
		}
		return repo.ReplaceReminders(ctx, tx, snap.AppointmentID, rems)
	})
}

// deliverOnce sends the notice unless dispatchKind is already recorded, then
// records it. A persistent send failure is escalated and leaves no record.
func (r *Reconciler) deliverOnce(ctx context.Context, id, dispatchKind, channelID, template string, msg Message) (Outcome, error) {
	done, err := repo.DispatchExists(ctx, r.DB, id, dispatchKind)
	if err != nil {
		return "", err
	}
	if done {
		return OutcomeDuplicate, nil
	}
	text := r.Renderer.Render(template, msg)
	if err := r.send(ctx, domain.NoticeKind(template), channelID, text); err != nil {
		r.Operator.Escalate(ctx, ReasonDispatchFailed, id, err.Error())
		return OutcomeEscalated, nil
	}
	if _, err := repo.RecordDispatch(ctx, r.DB, id, dispatchKind, channelID); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		return "", err
	}
	return OutcomeNotified, nil
}

// send delivers text with one immediate retry. Each attempt is bounded by
// DispatchTimeout.
func (r *Reconciler) send(ctx context.Context, kind domain.NoticeKind, channelID, text string) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = sendWithTimeout(ctx, r.Notifier, r.DispatchTimeout, channelID, text)
		if err == nil {
			notificationsSent.WithLabelValues(string(kind)).Inc()
			return nil
		}
		notificationsFailed.WithLabelValues(string(kind)).Inc()
		log.Warn().Err(err).Str("kind", string(kind)).Str("channel_id", channelID).Int("attempt", attempt).Msg("notice delivery failed")
	}
	return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
}

// enrich fills the empty fields of ev from the booking system's detail record.
// Lookup problems are logged and leave ev unchanged.
func (r *Reconciler) enrich(ctx context.Context, ev domain.AppointmentEvent) domain.AppointmentEvent {
	if r.Fetcher == nil {
		return ev
	}
	company := ev.CompanyID
	if company == "" {
		company = r.DefaultCompanyID
	}
	rec, err := r.Fetcher.FetchRecord(ctx, company, ev.AppointmentID)
	if err != nil {
		log.Warn().Err(err).Str("appointment_id", ev.AppointmentID).Msg("detail lookup failed")
		return ev
	}
	full, err := r.Normalizer.Normalize(map[string]any{
		"status": string(ev.Kind),
		"id":     ev.AppointmentID,
		"data":   rec,
	})
	if err != nil {
		log.Warn().Err(err).Str("appointment_id", ev.AppointmentID).Msg("detail record not usable")
		return ev
	}
	fill(&ev.CompanyID, full.CompanyID)
	if ev.CompanyID == "" {
		ev.CompanyID = company
	}
	fill(&ev.ContactKey, full.ContactKey)
	fill(&ev.ClientName, full.ClientName)
	fill(&ev.ServiceLabel, full.ServiceLabel)
	fill(&ev.StaffLabel, full.StaffLabel)
	fill(&ev.PriceLabel, full.PriceLabel)
	if ev.ScheduledAt == nil {
		ev.ScheduledAt = full.ScheduledAt
	}
	return ev
}

func (r *Reconciler) escalateUnbound(ctx context.Context, id, contactKey string) {
	r.Operator.Escalate(ctx, ReasonUnboundContact, id,
		fmt.Sprintf("%v: %s", ErrUnresolvedContact, maskPhone(contactKey)))
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func sendWithTimeout(ctx context.Context, n Notifier, timeout time.Duration, channelID, text string) error {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return n.Send(cctx, channelID, text)
}

func snapshotFromEvent(ev domain.AppointmentEvent) *domain.AppointmentSnapshot {
	return &domain.AppointmentSnapshot{
		AppointmentID: ev.AppointmentID,
		CompanyID:     ev.CompanyID,
		ContactKey:    ev.ContactKey,
		ClientName:    ev.ClientName,
		ScheduledAt:   ev.ScheduledAt,
		ServiceLabel:  ev.ServiceLabel,
		StaffLabel:    ev.StaffLabel,
		PriceLabel:    ev.PriceLabel,
	}
}

// mergeSnapshot returns a copy of s where every non-empty field of ev wins.
func mergeSnapshot(s *domain.AppointmentSnapshot, ev domain.AppointmentEvent) *domain.AppointmentSnapshot {
	out := *s
	overwrite(&out.CompanyID, ev.CompanyID)
	overwrite(&out.ContactKey, ev.ContactKey)
	overwrite(&out.ClientName, ev.ClientName)
	overwrite(&out.ServiceLabel, ev.ServiceLabel)
	overwrite(&out.StaffLabel, ev.StaffLabel)
	overwrite(&out.PriceLabel, ev.PriceLabel)
	if ev.ScheduledAt != nil {
		t := *ev.ScheduledAt
		out.ScheduledAt = &t
	}
	return &out
}

func overwrite(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
