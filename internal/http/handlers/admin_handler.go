package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/appointment-notifier/internal/domain"
	"github.com/tbourn/appointment-notifier/internal/services"
	"github.com/tbourn/appointment-notifier/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListRemindersResponse wraps a page of pending reminders.
type ListRemindersResponse struct {
	Reminders  []domain.PendingReminder `json:"reminders"`
	Pagination Pagination               `json:"pagination"`
}

// GetAppointment godoc
// @ID          getAppointment
// @Summary     Show an appointment's scheduler state
// @Description Returns the stored snapshot, its reminders and the notices already delivered.
// @Tags        Admin
// @Produce     json
//
// @Param       id  path  string  true  "Booking-system appointment id"  example(901)
//
// @Success     200  {object}  services.AppointmentView
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown appointment"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /appointments/{id} [get]
func (h *Handlers) GetAppointment(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "appointment id required")
		return
	}
	v, err := h.inspector.Appointment(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrAppointmentNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "appointment not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "lookup failed")
		return
	}
	ok(c, http.StatusOK, v)
}

// ListReminders godoc
// @ID          listReminders
// @Summary     List pending reminders (paginated)
// @Description Unsent reminders ordered by fire time.
// @Tags        Admin
// @Produce     json
//
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListRemindersResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /reminders [get]
func (h *Handlers) ListReminders(c *gin.Context) {
	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)

	items, total, err := h.inspector.PendingPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "list failed")
		return
	}
	if items == nil {
		items = []domain.PendingReminder{}
	}
	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListRemindersResponse{
		Reminders: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
