package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type CreateWorkItemRequest struct {
	Priority  string     `json:"priority" validate:"required"`
	PolicyID  string     `json:"policy_id" validate:"required"`
	CreatedAt *time.Time `json:"created_at"`
}

// @Summary Create a maintenance work item
// @Description The SLA deadline is computed synchronously from the policy and
// @Description its business calendar.
// @Tags work-items
// @Accept json
// @Produce json
// @Success 201 {object} models.WorkItem
// @Failure 404 {object} map[string]any
// @Router /api/work-items [post]
func (h *Handler) CreateWorkItem(c *gin.Context) {
	var req CreateWorkItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	createdAt := time.Now().UTC()
	if req.CreatedAt != nil {
		createdAt = req.CreatedAt.UTC()
	}

	item, err := h.Registry.Create(c.Request.Context(), req.Priority, req.PolicyID, createdAt)
	if err != nil {
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) WorkItemDetails(c *gin.Context) {
	id := c.Param("id")
	if item, ok := h.Registry.Get(id); ok {
		c.JSON(http.StatusOK, item)
		return
	}
	// Terminal items age out of the registry across restarts; fall back to
	// the store.
	item, err := h.Store.GetWorkItem(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Work item not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load work item", err.Error())
		return
	}
	c.JSON(http.StatusOK, item)
}

type ChangePriorityRequest struct {
	Priority        string `json:"priority" validate:"required"`
	ExpectedVersion int64  `json:"expected_version" validate:"min=0"`
}

// @Summary Change work item priority
// @Description Recomputes the deadline; escalation history is preserved. An
// @Description expected_version guards against concurrent edits.
// @Tags work-items
// @Accept json
// @Produce json
// @Success 200 {object} models.WorkItem
// @Failure 409 {object} map[string]any
// @Router /api/work-items/{id}/priority [patch]
func (h *Handler) ChangeWorkItemPriority(c *gin.Context) {
	var req ChangePriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	item, err := h.Registry.ChangePriority(c.Request.Context(), c.Param("id"), req.Priority, req.ExpectedVersion)
	if err != nil {
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type TransitionRequest struct {
	Transition string `json:"transition" validate:"required,oneof=assign start hold resume complete cancel"`
}

func (h *Handler) AdvanceWorkItemState(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	item, err := h.Registry.Advance(c.Request.Context(), c.Param("id"), req.Transition)
	if err != nil {
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
