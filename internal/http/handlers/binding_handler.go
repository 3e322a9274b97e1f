package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/appointment-notifier/internal/domain"
	"github.com/tbourn/appointment-notifier/internal/services"
)

// BindContactRequest links a phone number to a chat.
type BindContactRequest struct {
	// Phone in any common notation; normalized to +7XXXXXXXXXX.
	Phone string `json:"phone" binding:"required" example:"8 (916) 123-45-67"`
	// ChannelID is the delivery target, e.g. a Telegram chat id.
	ChannelID string `json:"channel_id" binding:"required" example:"123456789"`
}

// ChannelBindingsResponse lists the contacts delivered to one channel.
type ChannelBindingsResponse struct {
	ChannelID string                  `json:"channel_id"`
	Bindings  []domain.ContactBinding `json:"bindings"`
}

// BindContact godoc
// @ID          bindContact
// @Summary     Bind a phone number to a chat
// @Description Normalizes the phone and stores it against the chat, replacing any previous chat.
// @Tags        Bindings
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.BindContactRequest  true  "Binding"
//
// @Success     200  {object}  domain.ContactBinding
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid phone or channel"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /bindings [put]
func (h *Handlers) BindContact(c *gin.Context) {
	var req BindContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone and channel_id are required")
		return
	}
	b, err := h.bindings.Bind(c.Request.Context(), req.Phone, req.ChannelID)
	switch {
	case errors.Is(err, services.ErrInvalidContact):
		fail(c, http.StatusBadRequest, ErrCodeInvalidContact, "phone number cannot be normalized")
		return
	case errors.Is(err, services.ErrEmptyChannel):
		fail(c, http.StatusBadRequest, ErrCodeEmptyChannel, "channel_id must not be blank")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeStorage, "binding could not be stored")
		return
	}
	ok(c, http.StatusOK, b)
}

// GetBinding godoc
// @ID          getBinding
// @Summary     Look up the chat bound to a phone number
// @Tags        Bindings
// @Produce     json
//
// @Param       phone  path  string  true  "Phone, URL-encoded"  example(%2B79161234567)
//
// @Success     200  {object}  domain.ContactBinding
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid phone"
// @Failure     404  {object}  handlers.ErrorResponse  "Not bound"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /bindings/{phone} [get]
func (h *Handlers) GetBinding(c *gin.Context) {
	b, err := h.bindings.Lookup(c.Request.Context(), c.Param("phone"))
	switch {
	case errors.Is(err, services.ErrInvalidContact):
		fail(c, http.StatusBadRequest, ErrCodeInvalidContact, "phone number cannot be normalized")
		return
	case errors.Is(err, services.ErrBindingNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "binding not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "lookup failed")
		return
	}
	ok(c, http.StatusOK, b)
}

// ListChannelBindings godoc
// @ID          listChannelBindings
// @Summary     List the phone numbers bound to a chat
// @Description Oldest binding first. An unknown chat yields an empty list.
// @Tags        Bindings
// @Produce     json
//
// @Param       channel  path  string  true  "Chat id"  example(123456789)
//
// @Success     200  {object}  handlers.ChannelBindingsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Blank chat id"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /channels/{channel}/bindings [get]
func (h *Handlers) ListChannelBindings(c *gin.Context) {
	channel := c.Param("channel")
	list, err := h.bindings.ContactsOf(c.Request.Context(), channel)
	switch {
	case errors.Is(err, services.ErrEmptyChannel):
		fail(c, http.StatusBadRequest, ErrCodeEmptyChannel, "channel must not be blank")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "lookup failed")
		return
	}
	if list == nil {
		list = []domain.ContactBinding{}
	}
	ok(c, http.StatusOK, ChannelBindingsResponse{ChannelID: channel, Bindings: list})
}
