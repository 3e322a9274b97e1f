package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/appointment-notifier/internal/domain"
	"github.com/tbourn/appointment-notifier/internal/normalize"
	"github.com/tbourn/appointment-notifier/internal/repo"
)

// Directory is the identity directory: contact key → delivery channel.
type Directory struct {
	DB *gorm.DB
}

// Bind normalizes phone and stores it against channelID, replacing any
// previous channel for that contact.
func (d *Directory) Bind(ctx context.Context, phone, channelID string) (*domain.ContactBinding, error) {
	ctx, span := otel.Tracer("services/Directory").Start(ctx, "Bind",
		trace.WithAttributes(attribute.String("channel.id", channelID)),
	)
	defer span.End()

	key, err := normalize.Phone(phone)
	if err != nil || key == "" {
		return nil, ErrInvalidContact
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, ErrEmptyChannel
	}
	return repo.UpsertBinding(ctx, d.DB, key, channelID)
}

// Resolve returns the channel bound to contactKey. ok is false when the
// contact is unknown; err is reserved for storage failures.
func (d *Directory) Resolve(ctx context.Context, contactKey string) (channelID string, ok bool, err error) {
	if contactKey == "" {
		return "", false, nil
	}
	b, err := repo.GetBinding(ctx, d.DB, contactKey)
	if errors.Is(err, repo.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return b.ChannelID, true, nil
}

// Lookup normalizes phone and returns its binding, or ErrBindingNotFound.
func (d *Directory) Lookup(ctx context.Context, phone string) (*domain.ContactBinding, error) {
	key, err := normalize.Phone(phone)
	if err != nil || key == "" {
		return nil, ErrInvalidContact
	}
	b, err := repo.GetBinding(ctx, d.DB, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBindingNotFound
	}
	return b, err
}

// ContactsOf returns the contacts bound to channelID, oldest binding first.
func (d *Directory) ContactsOf(ctx context.Context, channelID string) ([]domain.ContactBinding, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, ErrEmptyChannel
	}
	return repo.ListBindingsByChannel(ctx, d.DB, channelID)
}
