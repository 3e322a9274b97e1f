package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/appointment-notifier/internal/domain"
	"github.com/tbourn/appointment-notifier/internal/repo"
)

func seedReminder(t *testing.T, f *fixture, id, kind string, at, fire time.Time) {
	t.Helper()
	err := repo.ReplaceReminders(context.Background(), f.db, id, []domain.PendingReminder{{
		Kind:        kind,
		FireAt:      fire,
		ScheduledAt: at,
		ChannelID:   testChannel,
		Payload:     "reminder " + kind,
	}})
	if err != nil {
		t.Fatalf("seed reminder: %v", err)
	}
}

func TestScheduler_FailedDeliveryRetriesNextTick(t *testing.T) {
	f := newFixture(t)
	at := f.now.Add(time.Hour)
	fire := f.now.Add(-time.Minute)
	seedReminder(t, f, "a1", "lead_2h", at, fire)

	f.user.failNext(1)
	st := f.tick()
	if st.Failed != 1 || st.Fired != 0 {
		t.Fatalf("expected one failure, got %+v", st)
	}
	r, _ := repo.GetReminder(context.Background(), f.db, "a1", "lead_2h")
	if r.Sent {
		t.Fatalf("failed reminder must stay unsent")
	}

	st = f.tick()
	if st.Fired != 1 {
		t.Fatalf("expected retry to fire, got %+v", st)
	}
	if !f.dispatched("a1", domain.DispatchKindReminder("lead_2h", fire)) {
		t.Fatalf("expected reminder dispatch record")
	}
	if n := len(f.user.messages()); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
}

func TestScheduler_DispatchRecordPreventsRefire(t *testing.T) {
	f := newFixture(t)
	at := f.now.Add(time.Hour)
	fire := f.now.Add(-time.Minute)
	seedReminder(t, f, "a1", "lead_2h", at, fire)

	// Simulate a crash between send and the sent flag.
	if _, err := repo.RecordDispatch(context.Background(), f.db, "a1", domain.DispatchKindReminder("lead_2h", fire), testChannel); err != nil {
		t.Fatalf("RecordDispatch: %v", err)
	}

	st := f.tick()
	if st.Fired != 0 || st.Skipped != 1 {
		t.Fatalf("expected skip, got %+v", st)
	}
	if n := len(f.user.messages()); n != 0 {
		t.Fatalf("reminder must not be sent twice, got %d", n)
	}
	r, _ := repo.GetReminder(context.Background(), f.db, "a1", "lead_2h")
	if !r.Sent {
		t.Fatalf("expected reminder to be marked sent")
	}
}

func TestScheduler_ReplanRearmsReminder(t *testing.T) {
	f := newFixture(t)
	f.bind()
	t1 := f.now.Add(24*time.Hour + 5*time.Minute)
	f.handle(createdEvent("a1", t1))

	f.now = f.now.Add(10 * time.Minute)
	if st := f.tick(); st.Fired != 1 {
		t.Fatalf("expected lead_1d to fire, got %+v", st)
	}

	// Moved a week out: the 1-day reminder fires again relative to the new time.
	t2 := t1.Add(7 * 24 * time.Hour)
	f.handle(updatedEvent("a1", ptr(t2)))
	f.now = t2.Add(-24*time.Hour + time.Minute)
	st := f.tick()
	if st.Fired < 1 {
		t.Fatalf("expected re-armed reminder to fire, got %+v", st)
	}
	if !f.dispatched("a1", domain.DispatchKindReminder("lead_1d", t2.Add(-24*time.Hour))) {
		t.Fatalf("expected dispatch record for the new fire time")
	}
}

func TestScheduler_GarbageCollectsOldAppointments(t *testing.T) {
	f := newFixture(t)
	old := f.now.Add(-25 * time.Hour)
	seedReminder(t, f, "old", "lead_2h", old, old.Add(-2*time.Hour))
	recent := f.now.Add(-time.Hour)
	seedReminder(t, f, "recent", "lead_2h", recent, recent.Add(-2*time.Hour))

	// Let the recent one fail so it stays queued.
	f.user.failNext(10)
	before := testutil.ToFloat64(remindersCollected)

	st := f.tick()
	if st.Collected != 1 {
		t.Fatalf("expected one reminder collected, got %+v", st)
	}
	if got := testutil.ToFloat64(remindersCollected) - before; got != 1 {
		t.Fatalf("expected gc metric +1, got %v", got)
	}
	if n := len(f.reminders("old")); n != 0 {
		t.Fatalf("old reminder must be collected")
	}
	if n := len(f.reminders("recent")); n != 1 {
		t.Fatalf("recent reminder must survive")
	}
}

func TestScheduler_SkipsCancelledMidTick(t *testing.T) {
	f := newFixture(t)
	f.bind()
	at := f.now.Add(24*time.Hour + 5*time.Minute)
	f.handle(createdEvent("a1", at))
	f.now = f.now.Add(10 * time.Minute)

	due, err := repo.ListDueReminders(context.Background(), f.db, f.now, 0)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected one due reminder, got %d (%v)", len(due), err)
	}
	f.handle(cancelledEvent("a1"))

	if res := f.sched.fire(context.Background(), due[0], f.now); res != fireSkipped {
		t.Fatalf("expected skip for a cancelled appointment, got %v", res)
	}
}

func TestScheduler_StorageErrorReturned(t *testing.T) {
	f := newFixture(t)
	if err := f.db.Migrator().DropTable("reminders"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := f.sched.Tick(context.Background()); err == nil {
		t.Fatalf("expected storage error")
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.sched.Interval = 10 * time.Millisecond
	seedReminder(t, f, "a1", "lead_2h", f.now.Add(time.Hour), f.now.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(f.user.messages()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("scheduler never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}
