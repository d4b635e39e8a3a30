package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/facilityops/backend/internal/db"
	"github.com/facilityops/backend/internal/escalate"
	"github.com/facilityops/backend/internal/models"
	"github.com/facilityops/backend/internal/schedule"
	"github.com/facilityops/backend/internal/sla"
	"github.com/facilityops/backend/internal/utils"
	"github.com/facilityops/backend/internal/workorder"
)

type Handler struct {
	Scheduler *schedule.Scheduler
	Registry  *workorder.Registry
	Engine    *escalate.Engine
	Store     *db.Store
	Validator *validator.Validate
	Logger    zerolog.Logger
	AdminKey  string
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type CreateResourceRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name" validate:"required"`
	Kind       string `json:"kind" validate:"required"`
	Capacity   int    `json:"capacity" validate:"required,min=1"`
	CalendarID string `json:"calendar_id"`
}

// @Summary Register a resource
// @Tags resources
// @Accept json
// @Produce json
// @Success 201 {object} models.Resource
// @Failure 400 {object} map[string]any
// @Router /api/resources [post]
func (h *Handler) CreateResource(c *gin.Context) {
	var req CreateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	res := models.Resource{
		ID:         req.ID,
		Name:       req.Name,
		Kind:       req.Kind,
		Capacity:   req.Capacity,
		CalendarID: req.CalendarID,
		CreatedAt:  time.Now().UTC(),
	}
	if res.ID == "" {
		res.ID = utils.NewID("res")
	}
	if err := h.Scheduler.AddResource(res); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid resource", err.Error())
		return
	}
	if err := h.Store.InsertResource(c.Request.Context(), res); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to save resource", err.Error())
		return
	}
	c.JSON(http.StatusCreated, res)
}

type ImportResourcesRequest struct {
	Items []CreateResourceRequest `json:"items" validate:"required,min=1,dive"`
}

// ImportResources bulk-loads a resource catalog. Resources are registered
// one by one; the batch persists in a single CopyFrom once all are accepted.
func (h *Handler) ImportResources(c *gin.Context) {
	var req ImportResourcesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	now := time.Now().UTC()
	resources := make([]models.Resource, 0, len(req.Items))
	for _, item := range req.Items {
		res := models.Resource{
			ID:         item.ID,
			Name:       item.Name,
			Kind:       item.Kind,
			Capacity:   item.Capacity,
			CalendarID: item.CalendarID,
			CreatedAt:  now,
		}
		if res.ID == "" {
			res.ID = utils.NewID("res")
		}
		resources = append(resources, res)
	}
	for _, res := range resources {
		if err := h.Scheduler.AddResource(res); err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid resource", err.Error())
			return
		}
	}
	inserted, err := h.Store.ImportResources(c.Request.Context(), resources)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to import resources", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"imported": inserted})
}

func (h *Handler) ResourcesList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.Scheduler.Resources()})
}

func (h *Handler) EscalationsList(c *gin.Context) {
	workItemID := c.Query("work_item_id")
	limit := 100
	items, err := h.Store.ListEscalations(c.Request.Context(), workItemID, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list escalations", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type SweepRequest struct {
	Now *time.Time `json:"now"`
}

// @Summary Run one escalation sweep
// @Description Evaluates all open work items against their SLA thresholds.
// @Tags escalations
// @Accept json
// @Produce json
// @Success 200 {object} escalate.TickSummary
// @Router /api/sweep [post]
func (h *Handler) Sweep(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	now := time.Now().UTC()
	if req.Now != nil {
		now = req.Now.UTC()
	}
	summary := h.Engine.Tick(c.Request.Context(), now)
	c.JSON(http.StatusOK, summary)
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// mapDomainError translates core errors into the API error vocabulary.
func mapDomainError(c *gin.Context, err error) {
	var conflict *schedule.ConflictError
	var invalidTransition *workorder.InvalidTransitionError
	switch {
	case errors.As(err, &conflict):
		writeError(c, http.StatusConflict, "CONFLICT", conflict.ReasonText, gin.H{
			"resource_id": conflict.ResourceID,
			"reason_code": conflict.ReasonCode,
		})
	case errors.Is(err, schedule.ErrInvalidWindow):
		writeError(c, http.StatusUnprocessableEntity, "INVALID_WINDOW", err.Error(), nil)
	case errors.Is(err, schedule.ErrResourceNotFound),
		errors.Is(err, schedule.ErrBookingNotFound),
		errors.Is(err, workorder.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, sla.ErrPolicyMissing):
		writeError(c, http.StatusNotFound, "POLICY_MISSING", err.Error(), nil)
	case errors.Is(err, sla.ErrUnknownPriority):
		writeError(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, workorder.ErrStaleState), errors.Is(err, schedule.ErrStaleState):
		writeError(c, http.StatusConflict, "STALE_STATE", err.Error(), nil)
	case errors.As(err, &invalidTransition):
		writeError(c, http.StatusConflict, "INVALID_TRANSITION", invalidTransition.Error(), gin.H{
			"from":       invalidTransition.From,
			"transition": invalidTransition.Transition,
		})
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL", "Unexpected error", err.Error())
	}
}
