package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/facilityops/backend/internal/schedule"
)

type CreateBookingRequest struct {
	ResourceID   string             `json:"resource_id" validate:"required"`
	Start        time.Time          `json:"start" validate:"required"`
	End          time.Time          `json:"end" validate:"required"`
	Requester    string             `json:"requester" validate:"required"`
	Kind         string             `json:"kind"`
	Headcount    int                `json:"headcount" validate:"min=0"`
	Recurrence   *RecurrenceRequest `json:"recurrence"`
	AllOrNothing bool               `json:"all_or_nothing"`
}

type RecurrenceRequest struct {
	Freq  string `json:"freq" validate:"required,oneof=daily weekly monthly"`
	Count int    `json:"count" validate:"required,min=1,max=52"`
}

// @Summary Create a booking
// @Description Validates the window against the resource calendar and commits
// @Description atomically. A recurrence expands into independent occurrences.
// @Tags bookings
// @Accept json
// @Produce json
// @Success 201 {object} models.Booking
// @Failure 409 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Router /api/bookings [post]
func (h *Handler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	bookingReq := schedule.BookingRequest{
		ResourceID: req.ResourceID,
		Window:     schedule.Interval{Start: req.Start, End: req.End},
		Requester:  req.Requester,
		Kind:       req.Kind,
		Headcount:  req.Headcount,
	}

	if req.Recurrence != nil {
		rec := schedule.Recurrence{Freq: req.Recurrence.Freq, Count: req.Recurrence.Count}
		result, err := h.Scheduler.RequestSeries(c.Request.Context(), bookingReq, rec, req.AllOrNothing)
		if err != nil {
			mapDomainError(c, err)
			return
		}
		status := http.StatusCreated
		if len(result.Confirmed) == 0 {
			status = http.StatusConflict
		}
		c.JSON(status, result)
		return
	}

	booking, err := h.Scheduler.RequestBooking(c.Request.Context(), bookingReq)
	if err != nil {
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// @Summary Cancel a booking
// @Description Idempotent: cancelling an already cancelled booking succeeds.
// @Tags bookings
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/bookings/{id} [delete]
func (h *Handler) CancelBooking(c *gin.Context) {
	if err := h.Scheduler.CancelBooking(c.Request.Context(), c.Param("id")); err != nil {
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h *Handler) BookingDetails(c *gin.Context) {
	booking, ok := h.Scheduler.Booking(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Booking not found", nil)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// @Summary Query free sub-intervals of a resource
// @Tags resources
// @Produce json
// @Param from query string true "window start, RFC 3339"
// @Param to query string true "window end, RFC 3339"
// @Success 200 {object} map[string]any
// @Router /api/resources/{id}/availability [get]
func (h *Handler) Availability(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "from must be RFC 3339", err.Error())
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "to must be RFC 3339", err.Error())
		return
	}

	free, err := h.Scheduler.Availability(c.Param("id"), schedule.Interval{Start: from, End: to})
	if err != nil {
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resource_id": c.Param("id"), "free": free})
}
