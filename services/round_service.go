package services

import (
	"context"
	"errors"
	"strings"

	"eventquiz/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultRoundTitle = "Round"

// RoundService owns rounds and their ordered questions.
type RoundService struct {
	db    *gorm.DB
	cache StateCache
}

func NewRoundService(db *gorm.DB, cache StateCache) *RoundService {
	if cache == nil {
		cache = NoopStateCache{}
	}
	return &RoundService{db: db, cache: cache}
}

type QuestionInput struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correct_index"`
}

type ImportRequest struct {
	Title     string          `json:"title"`
	Questions []QuestionInput `json:"questions"`
}

type RoundUpsertRequest struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

type CloneRequest struct {
	BankID uint   `json:"bank_id" binding:"required"`
	Title  string `json:"title"`
}

type QuestionAddRequest struct {
	RoundID uint `json:"round_id" binding:"required"`
	QuestionInput
}

type QuestionUpdateRequest struct {
	ID           uint     `json:"id" binding:"required"`
	Text         *string  `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correct_index"`
}

// ValidateQuestion checks a complete question definition.
func ValidateQuestion(text string, options []string, correctIndex int) error {
	if strings.TrimSpace(text) == "" {
		return badInput("question text required")
	}
	if len(options) < 2 {
		return badInput("at least two options required")
	}
	for i, opt := range options {
		if strings.TrimSpace(opt) == "" {
			return badInput("option %d is empty", i)
		}
	}
	if correctIndex < 0 || correctIndex >= len(options) {
		return badInput("correct_index %d out of range", correctIndex)
	}
	return nil
}

func (in QuestionInput) validate() error {
	if in.CorrectIndex == nil {
		return badInput("correct_index required")
	}
	return ValidateQuestion(in.Text, in.Options, *in.CorrectIndex)
}

func (in QuestionInput) toModel(roundID uint, idx int) models.Question {
	return models.Question{
		RoundID:      roundID,
		QIndex:       idx,
		Text:         strings.TrimSpace(in.Text),
		Options:      datatypes.JSONSlice[string](in.Options),
		CorrectIndex: *in.CorrectIndex,
	}
}

// List returns every round of the event, newest first.
func (s *RoundService) List(ctx context.Context, eventID uint) ([]models.Round, error) {
	var rounds []models.Round
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id DESC").Find(&rounds).Error; err != nil {
		return nil, storageError("list rounds", err)
	}
	return rounds, nil
}

// Upsert creates a round, or renames an existing one when req.ID is set.
func (s *RoundService) Upsert(ctx context.Context, eventID uint, req *RoundUpsertRequest, bank bool) (uint, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return 0, badInput("title required")
	}

	db := s.db.WithContext(ctx)
	if req.ID != 0 {
		res := db.Model(&models.Round{}).
			Where("id = ? AND event_id = ?", req.ID, eventID).
			Update("title", title)
		if res.Error != nil {
			return 0, storageError("rename round", res.Error)
		}
		if res.RowsAffected == 0 {
			return 0, ErrRoundNotFound
		}
		s.cache.Invalidate(ctx, eventID)
		return req.ID, nil
	}

	round := models.Round{EventID: eventID, Title: title, IsBank: bank}
	if err := db.Create(&round).Error; err != nil {
		return 0, storageError("create round", err)
	}
	return round.ID, nil
}

// Import creates a closed round holding the given questions in order.
func (s *RoundService) Import(ctx context.Context, eventID uint, req *ImportRequest) (uint, int, error) {
	for i, q := range req.Questions {
		if err := q.validate(); err != nil {
			return 0, 0, badInput("question %d: %v", i, err)
		}
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultRoundTitle
	}

	var roundID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		round := models.Round{EventID: eventID, Title: title}
		if err := tx.Create(&round).Error; err != nil {
			return storageError("create round", err)
		}
		roundID = round.ID

		if len(req.Questions) == 0 {
			return nil
		}
		questions := make([]models.Question, len(req.Questions))
		for i, in := range req.Questions {
			questions[i] = in.toModel(round.ID, i)
		}
		if err := tx.Create(&questions).Error; err != nil {
			return storageError("create questions", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, asServiceError("import round", err)
	}

	log.WithFields(log.Fields{"event_id": eventID, "round_id": roundID, "questions": len(req.Questions)}).Info("round imported")
	return roundID, len(req.Questions), nil
}

// CloneFromBank copies a round's questions into a new playable round.
func (s *RoundService) CloneFromBank(ctx context.Context, eventID uint, req *CloneRequest) (uint, int, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultRoundTitle
	}

	var (
		newID uint
		count int
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findRound(tx, eventID, req.BankID); err != nil {
			return err
		}

		var source []models.Question
		if err := tx.Where("round_id = ?", req.BankID).Order("q_index ASC").Find(&source).Error; err != nil {
			return storageError("load bank questions", err)
		}

		round := models.Round{EventID: eventID, Title: title}
		if err := tx.Create(&round).Error; err != nil {
			return storageError("create round", err)
		}
		newID = round.ID
		count = len(source)

		if count == 0 {
			return nil
		}
		copies := make([]models.Question, count)
		for i, q := range source {
			copies[i] = models.Question{
				RoundID:      round.ID,
				QIndex:       q.QIndex,
				Text:         q.Text,
				Options:      q.Options,
				CorrectIndex: q.CorrectIndex,
			}
		}
		if err := tx.Create(&copies).Error; err != nil {
			return storageError("copy questions", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, asServiceError("clone round", err)
	}

	log.WithFields(log.Fields{"event_id": eventID, "bank_id": req.BankID, "round_id": newID}).Info("round cloned")
	return newID, count, nil
}

// Questions lists the questions of a round of the event, in order.
func (s *RoundService) Questions(ctx context.Context, eventID, roundID uint) ([]models.Question, error) {
	db := s.db.WithContext(ctx)
	if _, err := findRound(db, eventID, roundID); err != nil {
		return nil, err
	}

	var questions []models.Question
	if err := db.Where("round_id = ?", roundID).Order("q_index ASC").Find(&questions).Error; err != nil {
		return nil, storageError("list questions", err)
	}
	return questions, nil
}

// AddQuestion appends a question after the round's last index.
func (s *RoundService) AddQuestion(ctx context.Context, eventID uint, req *QuestionAddRequest) (*models.Question, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var question models.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the round so concurrent adds pick distinct indexes.
		var round models.Round
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND event_id = ?", req.RoundID, eventID).
			First(&round).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoundNotFound
			}
			return storageError("lock round", err)
		}

		var next int
		if err := tx.Model(&models.Question{}).
			Where("round_id = ?", round.ID).
			Select("COALESCE(MAX(q_index), -1) + 1").
			Scan(&next).Error; err != nil {
			return storageError("next question index", err)
		}

		question = req.toModel(round.ID, next)
		if err := tx.Create(&question).Error; err != nil {
			return storageError("create question", err)
		}
		return nil
	})
	if err != nil {
		return nil, asServiceError("add question", err)
	}

	s.cache.Invalidate(ctx, eventID)
	return &question, nil
}

// UpdateQuestion applies a partial update. Options and the correct index are
// frozen once any answer references the question.
func (s *RoundService) UpdateQuestion(ctx context.Context, eventID uint, req *QuestionUpdateRequest) (*models.Question, error) {
	var question *models.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		question, err = findQuestion(tx, eventID, req.ID, true)
		if err != nil {
			return err
		}

		changesAnswerKey := req.Options != nil || req.CorrectIndex != nil
		if changesAnswerKey {
			n, err := countAnswers(tx, question.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrQuestionLocked
			}
		}

		if req.Text != nil {
			question.Text = strings.TrimSpace(*req.Text)
		}
		if req.Options != nil {
			question.Options = datatypes.JSONSlice[string](req.Options)
		}
		if req.CorrectIndex != nil {
			question.CorrectIndex = *req.CorrectIndex
		}
		if err := ValidateQuestion(question.Text, question.Options, question.CorrectIndex); err != nil {
			return err
		}

		err = tx.Model(&models.Question{}).Where("id = ?", question.ID).Updates(map[string]interface{}{
			"text":          question.Text,
			"options":       question.Options,
			"correct_index": question.CorrectIndex,
		}).Error
		if err != nil {
			return storageError("update question", err)
		}
		return nil
	})
	if err != nil {
		return nil, asServiceError("update question", err)
	}

	s.cache.Invalidate(ctx, eventID)
	return question, nil
}

// DeleteQuestion removes a question and closes the gap in q_index. Deleting
// an unknown question is a no-op. Answered or revealed positions are locked.
func (s *RoundService) DeleteQuestion(ctx context.Context, eventID, questionID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		question, err := findQuestion(tx, eventID, questionID, true)
		if errors.Is(err, ErrQuestionMissing) {
			return nil
		}
		if err != nil {
			return err
		}

		n, err := countAnswers(tx, question.ID)
		if err != nil {
			return err
		}
		var reveals int64
		if err := tx.Model(&models.Reveal{}).
			Where("round_id = ? AND q_index >= ?", question.RoundID, question.QIndex).
			Count(&reveals).Error; err != nil {
			return storageError("count reveals", err)
		}
		if n > 0 || reveals > 0 {
			return ErrQuestionLocked
		}

		if err := tx.Exec("SET CONSTRAINTS quiz_questions_round_q_index_key DEFERRED").Error; err != nil {
			return storageError("defer index constraint", err)
		}
		if err := tx.Delete(&models.Question{}, question.ID).Error; err != nil {
			return storageError("delete question", err)
		}
		if err := tx.Model(&models.Question{}).
			Where("round_id = ? AND q_index > ?", question.RoundID, question.QIndex).
			Update("q_index", gorm.Expr("q_index - 1")).Error; err != nil {
			return storageError("reindex questions", err)
		}
		return nil
	})
	if err != nil {
		return asServiceError("delete question", err)
	}

	s.cache.Invalidate(ctx, eventID)
	return nil
}

func findRound(tx *gorm.DB, eventID, roundID uint) (*models.Round, error) {
	var round models.Round
	if err := tx.Where("id = ? AND event_id = ?", roundID, eventID).First(&round).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, storageError("load round", err)
	}
	return &round, nil
}

// findQuestion loads a question that belongs to a round of the event.
func findQuestion(tx *gorm.DB, eventID, questionID uint, lock bool) (*models.Question, error) {
	q := tx.Select("quiz_questions.*").
		Joins("JOIN quiz_rounds ON quiz_rounds.id = quiz_questions.round_id").
		Where("quiz_questions.id = ? AND quiz_rounds.event_id = ?", questionID, eventID)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "quiz_questions"}})
	}

	var question models.Question
	if err := q.First(&question).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuestionMissing
		}
		return nil, storageError("load question", err)
	}
	return &question, nil
}
