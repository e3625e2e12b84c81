package services

import (
	"context"

	"eventquiz/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type scopeKind int

const (
	scopeParticipant scopeKind = iota + 1
	scopeEvent
	scopeUsers
)

// ScoreScope selects the participants a score mutation applies to.
type ScoreScope struct {
	kind          scopeKind
	eventID       uint
	participantID uint
	userIDs       []uint
}

// ForParticipant targets a single participant of the event.
func ForParticipant(eventID, participantID uint) ScoreScope {
	return ScoreScope{kind: scopeParticipant, eventID: eventID, participantID: participantID}
}

// ForEvent targets every participant of the event.
func ForEvent(eventID uint) ScoreScope {
	return ScoreScope{kind: scopeEvent, eventID: eventID}
}

// ForUsers targets the participants of the event backed by the given users.
func ForUsers(eventID uint, userIDs []uint) ScoreScope {
	return ScoreScope{kind: scopeUsers, eventID: eventID, userIDs: userIDs}
}

// ScoreService is the only writer of participants.score.
type ScoreService struct {
	db *gorm.DB
}

func NewScoreService(db *gorm.DB) *ScoreService {
	return &ScoreService{db: db}
}

// AdjustBy adds delta to every participant in scope and returns the updated rows.
func (s *ScoreService) AdjustBy(ctx context.Context, scope ScoreScope, delta int) ([]models.Participant, error) {
	var updated []models.Participant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		updated, err = s.adjust(tx, scope, delta)
		return err
	})
	if err != nil {
		return nil, asServiceError("adjust score", err)
	}
	return updated, nil
}

// SetTo overwrites the score of every participant in scope.
func (s *ScoreService) SetTo(ctx context.Context, scope ScoreScope, value int) ([]models.Participant, error) {
	var updated []models.Participant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		updated, err = s.apply(tx, scope, value)
		return err
	})
	if err != nil {
		return nil, asServiceError("set score", err)
	}
	return updated, nil
}

// adjust runs inside the caller's transaction; reveal uses it directly.
func (s *ScoreService) adjust(tx *gorm.DB, scope ScoreScope, delta int) ([]models.Participant, error) {
	return s.apply(tx, scope, gorm.Expr("score + ?", delta))
}

func (s *ScoreService) apply(tx *gorm.DB, scope ScoreScope, value interface{}) ([]models.Participant, error) {
	var updated []models.Participant

	q := tx.Model(&updated).Clauses(clause.Returning{}).Where("event_id = ?", scope.eventID)
	switch scope.kind {
	case scopeParticipant:
		q = q.Where("id = ?", scope.participantID)
	case scopeUsers:
		if len(scope.userIDs) == 0 {
			return nil, nil
		}
		q = q.Where("user_id IN ?", scope.userIDs)
	case scopeEvent:
	default:
		return nil, badInput("score scope not set")
	}

	if err := q.Update("score", value).Error; err != nil {
		return nil, storageError("update score", err)
	}
	if scope.kind == scopeParticipant && len(updated) == 0 {
		return nil, ErrParticipantNotFound
	}

	log.WithFields(log.Fields{
		"event_id": scope.eventID,
		"affected": len(updated),
	}).Debug("scores updated")
	return updated, nil
}
