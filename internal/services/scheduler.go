package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/appointment-notifier/internal/domain"
	"github.com/tbourn/appointment-notifier/internal/keylock"
	"github.com/tbourn/appointment-notifier/internal/repo"
)

// Scheduler defaults.
const (
	DefaultInterval       = 45 * time.Second
	DefaultCleanupHorizon = 24 * time.Hour
	DefaultBatchSize      = 500
)

// TickStats reports what one tick did.
type TickStats struct {
	Due       int
	Fired     int
	Failed    int
	Skipped   int
	Collected int64
}

// Scheduler drains due reminders on a fixed interval. It shares the per-id
// lock table with the Reconciler so a reminder is never fired while its
// appointment is being replanned.
type Scheduler struct {
	DB       *gorm.DB
	Locks    keylock.Locker
	Notifier Notifier

	Interval        time.Duration
	CleanupHorizon  time.Duration
	DispatchTimeout time.Duration
	BatchSize       int
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Run ticks immediately and then every Interval until ctx is done. A tick in
// progress is always completed before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log.Info().Dur("interval", interval).Msg("reminder scheduler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.runTick(ctx)
		select {
		case <-ctx.Done():
			log.Info().Msg("reminder scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	// Shutdown must not interrupt a tick half way.
	st, err := s.Tick(context.WithoutCancel(ctx))
	if err != nil {
		log.Error().Err(err).Msg("scheduler tick failed")
		return
	}
	if st.Due > 0 || st.Collected > 0 {
		log.Info().
			Int("due", st.Due).
			Int("fired", st.Fired).
			Int("failed", st.Failed).
			Int("skipped", st.Skipped).
			Int64("collected", st.Collected).
			Msg("scheduler tick")
	}
}

// Tick fires every due unsent reminder once and garbage-collects reminders of
// appointments older than the cleanup horizon. A failed delivery is logged
// and left unsent for the next tick; only storage errors are returned.
func (s *Scheduler) Tick(ctx context.Context) (TickStats, error) {
	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := otel.Tracer("services/Scheduler").Start(ctx, "Tick")
	defer span.End()

	var st TickStats
	now := s.now()

	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	due, err := repo.ListDueReminders(ctx, s.DB, now, batch)
	if err != nil {
		return st, err
	}
	st.Due = len(due)

	for _, r := range due {
		switch s.fire(ctx, r, now) {
		case fireSent:
			st.Fired++
		case fireFailed:
			st.Failed++
		default:
			st.Skipped++
		}
	}

	horizon := s.CleanupHorizon
	if horizon <= 0 {
		horizon = DefaultCleanupHorizon
	}
	n, err := repo.DeleteExpiredReminders(ctx, s.DB, now.Add(-horizon))
	if err != nil {
		return st, err
	}
	st.Collected = n
	remindersCollected.Add(float64(n))

	span.SetAttributes(
		attribute.Int("reminders.due", st.Due),
		attribute.Int("reminders.fired", st.Fired),
		attribute.Int("reminders.failed", st.Failed),
		attribute.Int64("reminders.collected", st.Collected),
	)
	return st, nil
}

type fireResult int

const (
	fireSkipped fireResult = iota
	fireSent
	fireFailed
)

// fire delivers one reminder under its appointment's lock.
func (s *Scheduler) fire(ctx context.Context, r domain.PendingReminder, now time.Time) fireResult {
	ctx, span := otel.Tracer("services/Scheduler").Start(ctx, "Fire",
		trace.WithAttributes(
			attribute.String("appointment.id", r.AppointmentID),
			attribute.String("reminder.kind", r.Kind),
		),
	)
	defer span.End()

	l := log.With().Str("appointment_id", r.AppointmentID).Str("kind", r.Kind).Logger()

	unlock, err := s.Locks.Lock(ctx, r.AppointmentID)
	if err != nil {
		l.Error().Err(err).Msg("reminder lock failed")
		return fireFailed
	}
	defer unlock()

	// Re-read under the lock: a replan or cancel may have won the race.
	cur, err := repo.GetReminder(ctx, s.DB, r.AppointmentID, r.Kind)
	if errors.Is(err, repo.ErrNotFound) {
		return fireSkipped
	}
	if err != nil {
		l.Error().Err(err).Msg("reminder reload failed")
		return fireFailed
	}
	if cur.Sent || !cur.FireAt.Equal(r.FireAt) || cur.FireAt.After(now) {
		return fireSkipped
	}

	dispatchKind := domain.DispatchKindReminder(cur.Kind, cur.FireAt)
	done, err := repo.DispatchExists(ctx, s.DB, cur.AppointmentID, dispatchKind)
	if err != nil {
		l.Error().Err(err).Msg("dispatch log check failed")
		return fireFailed
	}
	if done {
		// Delivered before a crash lost the sent flag.
		if err := repo.MarkReminderSent(ctx, s.DB, cur.AppointmentID, cur.Kind, now); err != nil {
			l.Error().Err(err).Msg("mark sent failed")
		}
		return fireSkipped
	}

	if err := sendWithTimeout(ctx, s.Notifier, s.DispatchTimeout, cur.ChannelID, cur.Payload); err != nil {
		notificationsFailed.WithLabelValues("reminder").Inc()
		l.Warn().Err(err).Str("channel_id", cur.ChannelID).Msg("reminder delivery failed; will retry next tick")
		return fireFailed
	}
	notificationsSent.WithLabelValues("reminder").Inc()
	remindersFired.WithLabelValues(cur.Kind).Inc()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.RecordDispatch(ctx, tx, cur.AppointmentID, dispatchKind, cur.ChannelID); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			return err
		}
		return repo.MarkReminderSent(ctx, tx, cur.AppointmentID, cur.Kind, now)
	})
	if err != nil {
		l.Error().Err(err).Msg("reminder sent but bookkeeping failed")
	}
	return fireSent
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
