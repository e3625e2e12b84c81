package services

import (
	"context"
	"errors"

	"eventquiz/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevealAward is the score added to each correct responder on reveal.
const RevealAward = 10

type PublicQuestion struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// PublicRound is the participant view of the open round. It never carries
// the correct answer.
type PublicRound struct {
	ID       uint            `json:"id"`
	Title    string          `json:"title"`
	CurrentQ int             `json:"current_q"`
	Question *PublicQuestion `json:"question"`
}

// Engine drives the per-event round state machine.
type Engine struct {
	db        *gorm.DB
	scores    *ScoreService
	ledger    *Ledger
	cache     StateCache
	publisher Publisher
	clock     Clock
}

func NewEngine(db *gorm.DB, scores *ScoreService, ledger *Ledger, cache StateCache, publisher Publisher, clock Clock) *Engine {
	if cache == nil {
		cache = NoopStateCache{}
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Engine{
		db:        db,
		scores:    scores,
		ledger:    ledger,
		cache:     cache,
		publisher: publisher,
		clock:     clock,
	}
}

// OpenRound closes whatever round is open for the event and opens roundID at
// question 0, in one transaction serialized on the event row.
func (e *Engine) OpenRound(ctx context.Context, eventID, roundID uint) error {
	tx := e.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return storageError("begin open round", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var event models.Event
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&event, eventID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEventNotFound
		}
		return storageError("lock event", err)
	}

	var round models.Round
	if err := tx.Where("id = ? AND event_id = ?", roundID, eventID).First(&round).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoundNotFound
		}
		return storageError("load round", err)
	}
	if round.IsBank {
		tx.Rollback()
		return ErrRoundIsBank
	}

	if err := tx.Model(&models.Round{}).
		Where("event_id = ? AND is_open AND id <> ?", eventID, roundID).
		Update("is_open", false).Error; err != nil {
		tx.Rollback()
		return storageError("close open rounds", err)
	}

	if err := tx.Model(&models.Round{}).
		Where("id = ?", roundID).
		Updates(map[string]interface{}{"is_open": true, "current_q": 0}).Error; err != nil {
		tx.Rollback()
		return storageError("open round", err)
	}

	if err := tx.Commit().Error; err != nil {
		return storageError("commit open round", err)
	}

	log.WithFields(log.Fields{"event_id": eventID, "round_id": roundID}).Info("round opened")
	e.cache.Invalidate(ctx, eventID)
	e.notify(ctx, eventID, NotifyRoundOpened, map[string]interface{}{
		"round_id":  roundID,
		"title":     round.Title,
		"current_q": 0,
	})
	return nil
}

// Advance moves the open round to its next question. There is no upper bound;
// past the last question the public state simply has no question.
func (e *Engine) Advance(ctx context.Context, eventID uint) (*models.Round, error) {
	var rounds []models.Round
	res := e.db.WithContext(ctx).Model(&rounds).
		Clauses(clause.Returning{}).
		Where("event_id = ? AND is_open", eventID).
		Update("current_q", gorm.Expr("current_q + 1"))
	if res.Error != nil {
		return nil, storageError("advance round", res.Error)
	}
	if len(rounds) == 0 {
		return nil, ErrRoundClosed
	}

	round := rounds[0]
	log.WithFields(log.Fields{
		"event_id":  eventID,
		"round_id":  round.ID,
		"current_q": round.CurrentQ,
	}).Info("question advanced")
	e.cache.Invalidate(ctx, eventID)
	e.notify(ctx, eventID, NotifyQuestionAdvanced, map[string]interface{}{
		"round_id":  round.ID,
		"current_q": round.CurrentQ,
	})
	return &round, nil
}

// CloseRound marks roundID closed. Closing an already closed or unknown round
// is a no-op.
func (e *Engine) CloseRound(ctx context.Context, eventID, roundID uint) error {
	res := e.db.WithContext(ctx).Model(&models.Round{}).
		Where("id = ? AND event_id = ? AND is_open", roundID, eventID).
		Update("is_open", false)
	if res.Error != nil {
		return storageError("close round", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	log.WithFields(log.Fields{"event_id": eventID, "round_id": roundID}).Info("round closed")
	e.cache.Invalidate(ctx, eventID)
	e.notify(ctx, eventID, NotifyRoundClosed, map[string]interface{}{"round_id": roundID})
	return nil
}

// PublicState returns the open round with its current question, or nil when
// no round is open.
func (e *Engine) PublicState(ctx context.Context, eventID uint) (*PublicRound, error) {
	cached, gen, ok := e.cache.Get(ctx, eventID)
	if ok {
		return cached, nil
	}

	db := e.db.WithContext(ctx)
	round, err := findOpenRound(db, eventID, false)
	if err != nil {
		return nil, err
	}

	var state *PublicRound
	if round != nil {
		state = &PublicRound{ID: round.ID, Title: round.Title, CurrentQ: round.CurrentQ}
		q, err := findCurrentQuestion(db, round)
		if err != nil {
			return nil, err
		}
		if q != nil {
			state.Question = &PublicQuestion{Text: q.Text, Options: append([]string{}, q.Options...)}
		}
	}

	e.cache.Set(ctx, eventID, gen, state)
	return state, nil
}

// RevealResult describes one completed reveal.
type RevealResult struct {
	RoundID      uint `json:"round_id"`
	QIndex       int  `json:"q_index"`
	QuestionID   uint `json:"question_id"`
	CorrectIndex int  `json:"correct_index"`
	Awarded      int  `json:"awarded"`
}

// Reveal scores the current question of the open round exactly once. The
// round row stays locked for the whole transaction so Advance cannot move the
// index underneath it; answers committed after the responder read are not
// scored.
func (e *Engine) Reveal(ctx context.Context, eventID uint) (*RevealResult, error) {
	tx := e.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, storageError("begin reveal", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	result, err := e.reveal(tx, eventID)
	if err != nil {
		tx.Rollback()
		return nil, asServiceError("reveal", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, storageError("commit reveal", err)
	}

	log.WithFields(log.Fields{
		"event_id": eventID,
		"round_id": result.RoundID,
		"q_index":  result.QIndex,
		"awarded":  result.Awarded,
	}).Info("question revealed")
	e.notify(ctx, eventID, NotifyQuestionRevealed, result)
	return result, nil
}

func (e *Engine) reveal(tx *gorm.DB, eventID uint) (*RevealResult, error) {
	round, err := findOpenRound(tx, eventID, true)
	if err != nil {
		return nil, err
	}
	if round == nil {
		return nil, ErrRoundClosed
	}

	q, err := findCurrentQuestion(tx, round)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, ErrQuestionMissing
	}

	marker := models.Reveal{
		RoundID:    round.ID,
		QIndex:     round.CurrentQ,
		QuestionID: q.ID,
		RevealedAt: e.clock.Now(),
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
	if res.Error != nil {
		return nil, storageError("insert reveal marker", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyRevealed
	}

	userIDs, err := e.ledger.correctResponders(tx, q.ID, q.CorrectIndex)
	if err != nil {
		return nil, err
	}
	awarded, err := e.scores.adjust(tx, ForUsers(eventID, userIDs), RevealAward)
	if err != nil {
		return nil, err
	}

	if err := tx.Model(&models.Reveal{}).
		Where("round_id = ? AND q_index = ?", round.ID, round.CurrentQ).
		Update("awarded", len(awarded)).Error; err != nil {
		return nil, storageError("record awarded", err)
	}

	return &RevealResult{
		RoundID:      round.ID,
		QIndex:       round.CurrentQ,
		QuestionID:   q.ID,
		CorrectIndex: q.CorrectIndex,
		Awarded:      len(awarded),
	}, nil
}

func (e *Engine) notify(ctx context.Context, eventID uint, kind string, payload interface{}) {
	e.publisher.Publish(ctx, Notification{
		EventID: eventID,
		Type:    kind,
		Payload: payload,
		At:      e.clock.Now(),
	})
}

// findOpenRound returns nil without error when no round is open.
func findOpenRound(tx *gorm.DB, eventID uint, lock bool) (*models.Round, error) {
	q := tx.Where("event_id = ? AND is_open", eventID).Order("id DESC")
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var round models.Round
	if err := q.First(&round).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storageError("load open round", err)
	}
	return &round, nil
}

// findCurrentQuestion returns nil without error when current_q is past the end.
func findCurrentQuestion(tx *gorm.DB, round *models.Round) (*models.Question, error) {
	var q models.Question
	err := tx.Where("round_id = ? AND q_index = ?", round.ID, round.CurrentQ).First(&q).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storageError("load current question", err)
	}
	return &q, nil
}
