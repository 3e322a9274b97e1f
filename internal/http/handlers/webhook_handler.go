package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/appointment-notifier/internal/http/middleware"
	"github.com/tbourn/appointment-notifier/internal/services"
)

// maxBatch caps how many events one webhook delivery may carry.
const maxBatch = 100

var webhookEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Booking-system events received, by reconciliation outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(webhookEvents)
}

// WebhookResponse acknowledges a delivery.
type WebhookResponse struct {
	Status   string             `json:"status" example:"ok"`
	Outcomes []services.Outcome `json:"outcomes"`
}

// ReceiveBookingEvent godoc
// @ID          receiveBookingEvent
// @Summary     Receive booking-system events
// @Description Accepts one event object or an array of them. Every event is reconciled in order.
// @Description Contained outcomes (notified, updated, duplicate, escalated, ignored) answer 200;
// @Description storage failures answer 500 so the sender redelivers.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Secret  header  string  false  "Shared secret (or ?secret=)"
// @Param       body              body    object  true   "Booking-system event(s)"
//
// @Success     200  {object}  handlers.WebhookResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed JSON"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad secret"
// @Failure     500  {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /webhooks/booking [post]
func (h *Handlers) ReceiveBookingEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot read body")
		return
	}
	events, err := decodeEvents(body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	lg := middleware.LoggerFrom(c)
	outcomes := make([]services.Outcome, 0, len(events))
	for i, raw := range events {
		out, err := h.events.Handle(c.Request.Context(), raw)
		if err != nil {
			lg.Error().Err(err).Int("index", i).Msg("event not applied")
			fail(c, http.StatusInternalServerError, ErrCodeStorage, "event could not be stored")
			return
		}
		webhookEvents.WithLabelValues(string(out)).Inc()
		outcomes = append(outcomes, out)
	}
	ok(c, http.StatusOK, WebhookResponse{Status: "ok", Outcomes: outcomes})
}

var errBadPayload = errors.New("body must be a JSON object or an array of objects")

// decodeEvents accepts an object or an array of objects. Numbers stay
// json.Number so large ids keep every digit.
func decodeEvents(body []byte) ([]map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errBadPayload
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	switch body[0] {
	case '{':
		var one map[string]any
		if err := dec.Decode(&one); err != nil {
			return nil, errBadPayload
		}
		return []map[string]any{one}, nil
	case '[':
		var many []map[string]any
		if err := dec.Decode(&many); err != nil {
			return nil, errBadPayload
		}
		if len(many) == 0 || len(many) > maxBatch {
			return nil, errors.New("batch must hold between 1 and 100 events")
		}
		return many, nil
	}
	return nil, errBadPayload
}
