package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/appointment-notifier/internal/domain"
	"github.com/tbourn/appointment-notifier/internal/keylock"
	"github.com/tbourn/appointment-notifier/internal/normalize"
	"github.com/tbourn/appointment-notifier/internal/repo"
)

const (
	testPhone   = "+79161234567"
	testChannel = "chat-1"
	opsChannel  = "ops"
)

var msk = time.FixedZone("MSK", 3*3600)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection keeps the shared in-memory DB free of table-lock errors.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type sentMsg struct {
	Channel string
	Text    string
}

// fakeNotifier records deliveries; the first failN calls fail.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sentMsg
	calls int
	failN int
}

func (n *fakeNotifier) Send(ctx context.Context, channelID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.failN > 0 {
		n.failN--
		return errors.New("transport down")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n.sent = append(n.sent, sentMsg{Channel: channelID, Text: text})
	return nil
}

func (n *fakeNotifier) messages() []sentMsg {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMsg(nil), n.sent...)
}

func (n *fakeNotifier) failNext(k int) {
	n.mu.Lock()
	n.failN = k
	n.mu.Unlock()
}

// fakeFetcher serves detail records by appointment id.
type fakeFetcher struct {
	mu      sync.Mutex
	records map[string]map[string]any
	calls   int
}

func (f *fakeFetcher) FetchRecord(_ context.Context, _, appointmentID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	rec, ok := f.records[appointmentID]
	if !ok {
		return nil, errors.New("record not found")
	}
	return rec, nil
}

type fixture struct {
	t        *testing.T
	db       *gorm.DB
	now      time.Time
	user     *fakeNotifier
	ops      *fakeNotifier
	fetcher  *fakeFetcher
	dir      *Directory
	rec      *Reconciler
	sched    *Scheduler
	renderer *Renderer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		db:      newTestDB(t),
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		user:    &fakeNotifier{},
		ops:     &fakeNotifier{},
		fetcher: &fakeFetcher{records: map[string]map[string]any{}},
	}
	clock := func() time.Time { return f.now }
	locks := keylock.NewMemory()

	f.renderer = NewRenderer(msk, nil)
	f.dir = &Directory{DB: f.db}
	f.rec = &Reconciler{
		DB:              f.db,
		Locks:           locks,
		Normalizer:      normalize.Normalizer{Location: msk},
		Directory:       f.dir,
		Planner:         &Planner{Leads: domain.DefaultLeads(), Grace: DefaultGrace, Renderer: f.renderer},
		Renderer:        f.renderer,
		Notifier:        f.user,
		Operator:        &OperatorSink{Notifier: f.ops, ChannelID: opsChannel},
		Fetcher:         f.fetcher,
		DispatchTimeout: time.Second,
		Now:             clock,
	}
	f.sched = &Scheduler{
		DB:              f.db,
		Locks:           locks,
		Notifier:        f.user,
		CleanupHorizon:  DefaultCleanupHorizon,
		DispatchTimeout: time.Second,
		Now:             clock,
	}
	return f
}

func (f *fixture) bind() {
	f.t.Helper()
	if _, err := f.dir.Bind(context.Background(), testPhone, testChannel); err != nil {
		f.t.Fatalf("Bind: %v", err)
	}
}

func (f *fixture) handle(ev domain.AppointmentEvent) Outcome {
	f.t.Helper()
	out, err := f.rec.HandleEvent(context.Background(), ev)
	if err != nil {
		f.t.Fatalf("HandleEvent(%s %s): %v", ev.Kind, ev.AppointmentID, err)
	}
	return out
}

func (f *fixture) reminders(id string) []domain.PendingReminder {
	f.t.Helper()
	rems, err := repo.ListReminders(context.Background(), f.db, id)
	if err != nil {
		f.t.Fatalf("ListReminders: %v", err)
	}
	return rems
}

func (f *fixture) snapshot(id string) *domain.AppointmentSnapshot {
	f.t.Helper()
	s, err := repo.GetAppointment(context.Background(), f.db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		f.t.Fatalf("GetAppointment: %v", err)
	}
	return s
}

func (f *fixture) dispatched(id, kind string) bool {
	f.t.Helper()
	ok, err := repo.DispatchExists(context.Background(), f.db, id, kind)
	if err != nil {
		f.t.Fatalf("DispatchExists: %v", err)
	}
	return ok
}

func (f *fixture) tick() TickStats {
	f.t.Helper()
	st, err := f.sched.Tick(context.Background())
	if err != nil {
		f.t.Fatalf("Tick: %v", err)
	}
	return st
}

func ptr(t time.Time) *time.Time { return &t }

func createdEvent(id string, at time.Time) domain.AppointmentEvent {
	return domain.AppointmentEvent{
		Kind:          domain.EventCreated,
		AppointmentID: id,
		ContactKey:    testPhone,
		ClientName:    "Анна",
		ScheduledAt:   ptr(at),
		ServiceLabel:  "Маникюр",
		StaffLabel:    "ольга",
		PriceLabel:    "2500",
	}
}

func updatedEvent(id string, at *time.Time) domain.AppointmentEvent {
	return domain.AppointmentEvent{Kind: domain.EventUpdated, AppointmentID: id, ScheduledAt: at}
}

func cancelledEvent(id string) domain.AppointmentEvent {
	return domain.AppointmentEvent{Kind: domain.EventCancelled, AppointmentID: id}
}
