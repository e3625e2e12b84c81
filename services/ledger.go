package services

import (
	"context"

	"eventquiz/database"
	"eventquiz/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger stores at most one answer per (question, user). The first answer wins.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

type SubmitAnswerRequest struct {
	TgID        int64 `json:"tg_id" binding:"required"`
	ChoiceIndex *int  `json:"choice_index" binding:"required"`
}

const (
	answerQuestionFK = "quiz_answers_question_id_fkey"
	answerUserFK     = "quiz_answers_user_id_fkey"
)

// Submit records the choice for the current question of the event's open
// round. It reports whether this call stored the answer; a repeat submission
// succeeds without touching the stored choice. The question row is read FOR
// SHARE, so an option edit or delete in flight either finishes first and is
// seen, or waits for the answer to commit.
func (l *Ledger) Submit(ctx context.Context, eventID uint, tgID int64, choiceIndex int) (bool, error) {
	var (
		recorded bool
		userID   uint
		question uint
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := findUser(tx, tgID)
		if err != nil {
			return err
		}
		userID = user.ID

		round, err := findOpenRound(tx, eventID, false)
		if err != nil {
			return err
		}
		if round == nil {
			return ErrRoundClosed
		}

		q, err := findCurrentQuestion(tx.Clauses(clause.Locking{Strength: "SHARE"}), round)
		if err != nil {
			return err
		}
		if q == nil {
			return ErrQuestionMissing
		}
		if !q.ValidChoice(choiceIndex) {
			return badInput("choice_index %d out of range [0,%d)", choiceIndex, len(q.Options))
		}
		question = q.ID

		answer := models.Answer{
			QuestionID:  q.ID,
			UserID:      user.ID,
			ChoiceIndex: choiceIndex,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "question_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&answer)
		if res.Error != nil {
			return answerInsertError(res.Error)
		}
		recorded = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, asServiceError("submit answer", err)
	}

	log.WithFields(log.Fields{
		"event_id":    eventID,
		"question_id": question,
		"user_id":     userID,
		"recorded":    recorded,
	}).Debug("answer submitted")
	return recorded, nil
}

// answerInsertError maps a question or user removed underneath the insert to
// its typed error.
func answerInsertError(err error) error {
	switch {
	case database.IsForeignKeyViolation(err, answerQuestionFK):
		return ErrQuestionMissing
	case database.IsForeignKeyViolation(err, answerUserFK):
		return ErrUserNotFound
	default:
		return storageError("insert answer", err)
	}
}

// CorrectResponders lists the users whose stored answer for questionID is choice.
func (l *Ledger) CorrectResponders(ctx context.Context, questionID uint, choice int) ([]uint, error) {
	return l.correctResponders(l.db.WithContext(ctx), questionID, choice)
}

func (l *Ledger) correctResponders(tx *gorm.DB, questionID uint, choice int) ([]uint, error) {
	var userIDs []uint
	err := tx.Model(&models.Answer{}).
		Where("question_id = ? AND choice_index = ?", questionID, choice).
		Order("user_id").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, storageError("load responders", err)
	}
	return userIDs, nil
}

// AnswerCount reports how many answers exist for a question.
func (l *Ledger) AnswerCount(ctx context.Context, questionID uint) (int64, error) {
	return countAnswers(l.db.WithContext(ctx), questionID)
}

func countAnswers(tx *gorm.DB, questionID uint) (int64, error) {
	var n int64
	if err := tx.Model(&models.Answer{}).Where("question_id = ?", questionID).Count(&n).Error; err != nil {
		return 0, storageError("count answers", err)
	}
	return n, nil
}
