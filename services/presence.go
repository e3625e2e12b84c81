package services

import (
	"context"

	"eventquiz/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PresenceService struct {
	db    *gorm.DB
	clock Clock
}

func NewPresenceService(db *gorm.DB, clock Clock) *PresenceService {
	if clock == nil {
		clock = SystemClock
	}
	return &PresenceService{db: db, clock: clock}
}

type PingRequest struct {
	TgID int64 `json:"tg_id" binding:"required"`
}

// Heartbeat refreshes users.last_seen and the presence session of tgID.
func (s *PresenceService) Heartbeat(ctx context.Context, tgID int64) error {
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users []models.User
		res := tx.Model(&users).
			Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
			Where("tg_id = ?", tgID).
			Update("last_seen", now)
		if res.Error != nil {
			return storageError("touch user", res.Error)
		}
		if len(users) == 0 {
			return ErrUserNotFound
		}

		session := models.Session{UserID: users[0].ID, StartedAt: now, LastPing: now}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"last_ping": now}),
		}).Create(&session).Error
		if err != nil {
			return storageError("upsert session", err)
		}
		return nil
	})
	return asServiceError("heartbeat", err)
}
