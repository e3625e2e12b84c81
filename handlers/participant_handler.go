package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"eventquiz/models"
	"eventquiz/services"

	"github.com/gin-gonic/gin"
)

// DefaultResetScore is what the participants reset_scores action sets when
// the body names no target.
const DefaultResetScore = 50

type ParticipantDirectory interface {
	List(ctx context.Context, eventID uint, q services.ListQuery) (*services.ParticipantPage, error)
	Kick(ctx context.Context, eventID, participantID uint) error
}

type ScoreWriter interface {
	AdjustBy(ctx context.Context, scope services.ScoreScope, delta int) ([]models.Participant, error)
	SetTo(ctx context.Context, scope services.ScoreScope, value int) ([]models.Participant, error)
}

type adjustRequest struct {
	ParticipantID uint `json:"participant_id" binding:"required"`
	Delta         *int `json:"delta" binding:"required"`
}

type setScoreRequest struct {
	ParticipantID uint `json:"participant_id" binding:"required"`
	Score         *int `json:"score" binding:"required"`
}

type kickRequest struct {
	ParticipantID uint `json:"participant_id" binding:"required"`
}

type bonusRequest struct {
	Delta *int `json:"delta" binding:"required"`
}

type resetRequest struct {
	To *int `json:"to"`
}

type ParticipantHandler struct {
	eventScope
	participants ParticipantDirectory
	scores       ScoreWriter
}

func NewParticipantHandler(events EventResolver, defaultSlug string, participants ParticipantDirectory, scores ScoreWriter) *ParticipantHandler {
	return &ParticipantHandler{
		eventScope:   eventScope{events: events, defaultSlug: defaultSlug},
		participants: participants,
		scores:       scores,
	}
}

func (h *ParticipantHandler) List(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	query, err := services.ParseListQuery(c.Query("q"), c.Query("sort"), c.Query("order"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	page, err := h.participants.List(c.Request.Context(), event.ID, query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_slug": event.Slug,
		"total":      page.Total,
		"items":      page.Items,
	})
}

func (h *ParticipantHandler) Adjust(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	updated, err := h.scores.AdjustBy(c.Request.Context(), services.ForParticipant(event.ID, req.ParticipantID), *req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}

	respondParticipant(c, updated)
}

func (h *ParticipantHandler) Set(c *gin.Context) {
	var req setScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	updated, err := h.scores.SetTo(c.Request.Context(), services.ForParticipant(event.ID, req.ParticipantID), *req.Score)
	if err != nil {
		respondError(c, err)
		return
	}

	respondParticipant(c, updated)
}

func (h *ParticipantHandler) Kick(c *gin.Context) {
	var req kickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	if err := h.participants.Kick(c.Request.Context(), event.ID, req.ParticipantID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *ParticipantHandler) BonusAll(c *gin.Context) {
	var req bonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	updated, err := h.scores.AdjustBy(c.Request.Context(), services.ForEvent(event.ID), *req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": len(updated)})
}

// ResetScores sets every score of the event to the body's "to", default 50.
func (h *ParticipantHandler) ResetScores(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	to := DefaultResetScore
	if req.To != nil {
		to = *req.To
	}

	h.reset(c, to)
}

// ResetAll zeroes every score of the event.
func (h *ParticipantHandler) ResetAll(c *gin.Context) {
	h.reset(c, 0)
}

func (h *ParticipantHandler) reset(c *gin.Context, to int) {
	event, ok := h.event(c)
	if !ok {
		return
	}

	updated, err := h.scores.SetTo(c.Request.Context(), services.ForEvent(event.ID), to)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "reset": len(updated)})
}

func respondParticipant(c *gin.Context, updated []models.Participant) {
	if len(updated) == 0 {
		respondError(c, services.ErrParticipantNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": updated[0].ID, "score": updated[0].Score})
}
