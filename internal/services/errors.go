// Package services defines the business logic of the notification scheduler:
// the identity directory, reminder planning and rendering, event
// reconciliation and the scheduler loop. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

var (
	// ErrInvalidContact is returned when a contact key is empty or cannot be
	// normalized to a canonical phone number.
	ErrInvalidContact = errors.New("invalid contact")

	// ErrEmptyChannel is returned when a binding is attempted without a
	// delivery channel.
	ErrEmptyChannel = errors.New("channel id is empty")

	// ErrBindingNotFound indicates that no channel is bound to a contact.
	ErrBindingNotFound = errors.New("binding not found")

	// ErrAppointmentNotFound indicates that no snapshot exists for an id.
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrUnresolvedContact is reported to the operator sink when an event's
	// contact has no bound channel. It never escapes the reconciler.
	ErrUnresolvedContact = errors.New("contact has no bound channel")

	// ErrDispatchFailed wraps a transport error that persisted after retry.
	ErrDispatchFailed = errors.New("dispatch failed")
)
