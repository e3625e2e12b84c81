package handlers

import (
	"context"
	"net/http"

	"eventquiz/models"
	"eventquiz/services"

	"github.com/gin-gonic/gin"
)

type PhaseStore interface {
	Get(ctx context.Context, eventID uint) (*models.EventState, error)
	Patch(ctx context.Context, eventID uint, patch *services.PhasePatch) (*models.EventState, error)
}

type PhaseHandler struct {
	eventScope
	phases PhaseStore
}

func NewPhaseHandler(events EventResolver, defaultSlug string, phases PhaseStore) *PhaseHandler {
	return &PhaseHandler{
		eventScope: eventScope{events: events, defaultSlug: defaultSlug},
		phases:     phases,
	}
}

func (h *PhaseHandler) State(c *gin.Context) {
	event, ok := h.event(c)
	if !ok {
		return
	}

	state, err := h.phases.Get(c.Request.Context(), event.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_slug": event.Slug, "state": state})
}

func (h *PhaseHandler) StateSet(c *gin.Context) {
	var patch services.PhasePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	state, err := h.phases.Patch(c.Request.Context(), event.ID, &patch)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state})
}
