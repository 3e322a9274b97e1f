// Package docs registers the OpenAPI description of the HTTP API with swag.
// The template is generated from the handler annotations by `swag init
// -g cmd/server/main.go`; regenerate it after changing an annotation.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/webhooks/booking": {
            "post": {
                "description": "Accepts one event object or an array of them. Every event is reconciled in order.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Webhooks"],
                "summary": "Receive booking-system events",
                "operationId": "receiveBookingEvent",
                "parameters": [
                    {"type": "string", "description": "Shared secret (or ?secret=)", "name": "X-Webhook-Secret", "in": "header"},
                    {"description": "Booking-system event(s)", "name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.WebhookResponse"}},
                    "400": {"description": "Malformed JSON", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Bad secret", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Storage failure", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/bindings": {
            "put": {
                "description": "Normalizes the phone and stores it against the chat, replacing any previous chat.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Bindings"],
                "summary": "Bind a phone number to a chat",
                "operationId": "bindContact",
                "parameters": [
                    {"description": "Binding", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BindContactRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.ContactBinding"}},
                    "400": {"description": "Invalid phone or channel", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/bindings/{phone}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Bindings"],
                "summary": "Look up the chat bound to a phone number",
                "operationId": "getBinding",
                "parameters": [
                    {"type": "string", "example": "%2B79161234567", "description": "Phone, URL-encoded", "name": "phone", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.ContactBinding"}},
                    "400": {"description": "Invalid phone", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not bound", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/channels/{channel}/bindings": {
            "get": {
                "description": "Oldest binding first. An unknown chat yields an empty list.",
                "produces": ["application/json"],
                "tags": ["Bindings"],
                "summary": "List the phone numbers bound to a chat",
                "operationId": "listChannelBindings",
                "parameters": [
                    {"type": "string", "example": "123456789", "description": "Chat id", "name": "channel", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ChannelBindingsResponse"}},
                    "400": {"description": "Blank chat id", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/appointments/{id}": {
            "get": {
                "description": "Returns the stored snapshot, its reminders and the notices already delivered.",
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Show an appointment's scheduler state",
                "operationId": "getAppointment",
                "parameters": [
                    {"type": "string", "example": "901", "description": "Booking-system appointment id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.AppointmentView"}},
                    "404": {"description": "Unknown appointment", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/reminders": {
            "get": {
                "description": "Unsent reminders ordered by fire time.",
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "List pending reminders (paginated)",
                "operationId": "listReminders",
                "parameters": [
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListRemindersResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.ContactBinding": {
            "type": "object",
            "properties": {
                "channel_id": {"type": "string"},
                "contact_key": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.AppointmentSnapshot": {
            "type": "object",
            "properties": {
                "appointment_id": {"type": "string"},
                "client_name": {"type": "string"},
                "company_id": {"type": "string"},
                "contact_key": {"type": "string"},
                "created_at": {"type": "string"},
                "price_label": {"type": "string"},
                "scheduled_at": {"type": "string"},
                "service_label": {"type": "string"},
                "staff_label": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.PendingReminder": {
            "type": "object",
            "properties": {
                "appointment_id": {"type": "string"},
                "channel_id": {"type": "string"},
                "created_at": {"type": "string"},
                "fire_at": {"type": "string"},
                "kind": {"type": "string"},
                "payload": {"type": "string"},
                "scheduled_at": {"type": "string"},
                "sent": {"type": "boolean"},
                "sent_at": {"type": "string"}
            }
        },
        "domain.DispatchRecord": {
            "type": "object",
            "properties": {
                "appointment_id": {"type": "string"},
                "channel_id": {"type": "string"},
                "created_at": {"type": "string"},
                "event_kind": {"type": "string"},
                "id": {"type": "string"}
            }
        },
        "handlers.BindContactRequest": {
            "type": "object",
            "required": ["channel_id", "phone"],
            "properties": {
                "channel_id": {"type": "string", "example": "123456789"},
                "phone": {"type": "string", "example": "8 (916) 123-45-67"}
            }
        },
        "handlers.ChannelBindingsResponse": {
            "type": "object",
            "properties": {
                "bindings": {"type": "array", "items": {"$ref": "#/definitions/domain.ContactBinding"}},
                "channel_id": {"type": "string"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "has_next": {"type": "boolean"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "handlers.ListRemindersResponse": {
            "type": "object",
            "properties": {
                "pagination": {"$ref": "#/definitions/handlers.Pagination"},
                "reminders": {"type": "array", "items": {"$ref": "#/definitions/domain.PendingReminder"}}
            }
        },
        "handlers.WebhookResponse": {
            "type": "object",
            "properties": {
                "outcomes": {"type": "array", "items": {"type": "string"}},
                "status": {"type": "string", "example": "ok"}
            }
        },
        "services.AppointmentView": {
            "type": "object",
            "properties": {
                "appointment": {"$ref": "#/definitions/domain.AppointmentSnapshot"},
                "dispatches": {"type": "array", "items": {"$ref": "#/definitions/domain.DispatchRecord"}},
                "notices_sent": {"type": "integer"},
                "reminders": {"type": "array", "items": {"$ref": "#/definitions/domain.PendingReminder"}},
                "reminders_sent": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Appointment Notifier API",
	Description:      "Booking-system webhook ingress, contact bindings and scheduler inspection.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
