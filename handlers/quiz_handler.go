package handlers

import (
	"context"
	"net/http"

	"eventquiz/models"
	"eventquiz/services"

	"github.com/gin-gonic/gin"
)

type QuizEngine interface {
	OpenRound(ctx context.Context, eventID, roundID uint) error
	Advance(ctx context.Context, eventID uint) (*models.Round, error)
	CloseRound(ctx context.Context, eventID, roundID uint) error
	PublicState(ctx context.Context, eventID uint) (*services.PublicRound, error)
	Reveal(ctx context.Context, eventID uint) (*services.RevealResult, error)
}

type AnswerLedger interface {
	Submit(ctx context.Context, eventID uint, tgID int64, choiceIndex int) (bool, error)
}

type RoundRepository interface {
	List(ctx context.Context, eventID uint) ([]models.Round, error)
	Upsert(ctx context.Context, eventID uint, req *services.RoundUpsertRequest, bank bool) (uint, error)
	Import(ctx context.Context, eventID uint, req *services.ImportRequest) (uint, int, error)
	CloneFromBank(ctx context.Context, eventID uint, req *services.CloneRequest) (uint, int, error)
	Questions(ctx context.Context, eventID, roundID uint) ([]models.Question, error)
	AddQuestion(ctx context.Context, eventID uint, req *services.QuestionAddRequest) (*models.Question, error)
	UpdateQuestion(ctx context.Context, eventID uint, req *services.QuestionUpdateRequest) (*models.Question, error)
	DeleteQuestion(ctx context.Context, eventID, questionID uint) error
}

// roundRef accepts either id or round_id for the round being targeted.
type roundRef struct {
	ID      uint `json:"id"`
	RoundID uint `json:"round_id"`
}

func (r roundRef) target() uint {
	if r.RoundID != 0 {
		return r.RoundID
	}
	return r.ID
}

type idRequest struct {
	ID uint `json:"id" binding:"required"`
}

type QuizHandler struct {
	eventScope
	engine QuizEngine
	ledger AnswerLedger
	rounds RoundRepository
}

func NewQuizHandler(events EventResolver, defaultSlug string, engine QuizEngine, ledger AnswerLedger, rounds RoundRepository) *QuizHandler {
	return &QuizHandler{
		eventScope: eventScope{events: events, defaultSlug: defaultSlug},
		engine:     engine,
		ledger:     ledger,
		rounds:     rounds,
	}
}

func (h *QuizHandler) State(c *gin.Context) {
	event, ok := h.event(c)
	if !ok {
		return
	}

	round, err := h.engine.PublicState(c.Request.Context(), event.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"round": round})
}

func (h *QuizHandler) Answer(c *gin.Context) {
	var req services.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	recorded, err := h.ledger.Submit(c.Request.Context(), event.ID, req.TgID, *req.ChoiceIndex)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "recorded": recorded})
}

func (h *QuizHandler) Rounds(c *gin.Context) {
	event, ok := h.event(c)
	if !ok {
		return
	}

	rounds, err := h.rounds.List(c.Request.Context(), event.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

func (h *QuizHandler) RoundUpsert(c *gin.Context) {
	h.upsert(c, false)
}

func (h *QuizHandler) BankUpsert(c *gin.Context) {
	h.upsert(c, true)
}

func (h *QuizHandler) upsert(c *gin.Context, bank bool) {
	var req services.RoundUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	id, err := h.rounds.Upsert(c.Request.Context(), event.ID, &req, bank)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id})
}

// RoundOpen serves admin_round_open and admin_start.
func (h *QuizHandler) RoundOpen(c *gin.Context) {
	var req roundRef
	if err := c.ShouldBindJSON(&req); err != nil || req.target() == 0 {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	if err := h.engine.OpenRound(c.Request.Context(), event.ID, req.target()); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *QuizHandler) RoundClose(c *gin.Context) {
	var req roundRef
	if err := c.ShouldBindJSON(&req); err != nil || req.target() == 0 {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	if err := h.engine.CloseRound(c.Request.Context(), event.ID, req.target()); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *QuizHandler) Next(c *gin.Context) {
	event, ok := h.event(c)
	if !ok {
		return
	}

	round, err := h.engine.Advance(c.Request.Context(), event.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "current_q": round.CurrentQ})
}

func (h *QuizHandler) Reveal(c *gin.Context) {
	event, ok := h.event(c)
	if !ok {
		return
	}

	result, err := h.engine.Reveal(c.Request.Context(), event.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"awarded":       result.Awarded,
		"q_index":       result.QIndex,
		"correct_index": result.CorrectIndex,
	})
}

func (h *QuizHandler) Questions(c *gin.Context) {
	roundID, ok := queryUint(c, "round_id")
	if !ok {
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	questions, err := h.rounds.Questions(c.Request.Context(), event.ID, roundID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func (h *QuizHandler) QuestionAdd(c *gin.Context) {
	var req services.QuestionAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	question, err := h.rounds.AddQuestion(c.Request.Context(), event.ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "question": question})
}

func (h *QuizHandler) QuestionUpdate(c *gin.Context) {
	var req services.QuestionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	question, err := h.rounds.UpdateQuestion(c.Request.Context(), event.ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "question": question})
}

func (h *QuizHandler) QuestionDelete(c *gin.Context) {
	var req idRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	if err := h.rounds.DeleteQuestion(c.Request.Context(), event.ID, req.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *QuizHandler) Import(c *gin.Context) {
	var req services.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	id, count, err := h.rounds.Import(c.Request.Context(), event.ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "round_id": id, "questions": count})
}

func (h *QuizHandler) CloneFromBank(c *gin.Context) {
	var req services.CloneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, ok := h.event(c)
	if !ok {
		return
	}

	id, count, err := h.rounds.CloneFromBank(c.Request.Context(), event.ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "round_id": id, "questions": count})
}
