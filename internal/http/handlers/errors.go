// Package handlers implements the HTTP endpoints: the booking-system webhook
// ingress, contact binding, and the read-only admin views.
//
// Error responses always carry one of the codes below so clients can branch
// on them without parsing messages:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_contact",
//	  "message": "phone number cannot be normalized"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "unavailable"

	// Domain-specific:
	ErrCodeInvalidContact = "invalid_contact"
	ErrCodeEmptyChannel   = "empty_channel"
	ErrCodeStorage        = "storage_failed"
)
