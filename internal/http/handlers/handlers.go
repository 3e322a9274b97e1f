package handlers

import (
	"context"

	"github.com/tbourn/appointment-notifier/internal/domain"
	"github.com/tbourn/appointment-notifier/internal/services"
)

// EventProcessor applies one raw booking-system event.
type EventProcessor interface {
	Handle(ctx context.Context, raw map[string]any) (services.Outcome, error)
}

// BindingService maintains the contact → channel directory.
type BindingService interface {
	Bind(ctx context.Context, phone, channelID string) (*domain.ContactBinding, error)
	Lookup(ctx context.Context, phone string) (*domain.ContactBinding, error)
	ContactsOf(ctx context.Context, channelID string) ([]domain.ContactBinding, error)
}

// StateInspector serves read-only scheduler state.
type StateInspector interface {
	Appointment(ctx context.Context, id string) (*services.AppointmentView, error)
	PendingPage(ctx context.Context, page, pageSize int) ([]domain.PendingReminder, int64, error)
}

// Handlers groups the HTTP endpoints. Dependencies are interfaces so tests
// can substitute stubs.
type Handlers struct {
	events    EventProcessor
	bindings  BindingService
	inspector StateInspector
}

// New returns Handlers bound to the given services.
func New(events EventProcessor, bindings BindingService, inspector StateInspector) *Handlers {
	return &Handlers{events: events, bindings: bindings, inspector: inspector}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}
