package services

import (
	"context"
	"errors"
	"strings"

	"eventquiz/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MembershipService struct {
	db    *gorm.DB
	clock Clock
}

func NewMembershipService(db *gorm.DB, clock Clock) *MembershipService {
	if clock == nil {
		clock = SystemClock
	}
	return &MembershipService{db: db, clock: clock}
}

type RegisterRequest struct {
	TgID        int64  `json:"tg_id" binding:"required"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type JoinRequest struct {
	TgID        int64  `json:"tg_id" binding:"required"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	EventSlug   string `json:"event_slug"`
}

type JoinResult struct {
	Event       *models.Event       `json:"event"`
	Participant *models.Participant `json:"participant"`
}

type MeResult struct {
	Registered  bool                `json:"registered"`
	Event       *models.Event       `json:"event"`
	Participant *models.Participant `json:"participant"`
}

// ResolveEvent maps a slug to its event regardless of the active flag.
func (s *MembershipService) ResolveEvent(ctx context.Context, slug string) (*models.Event, error) {
	return s.findEvent(ctx, slug, false)
}

// ResolveActiveEvent is ResolveEvent restricted to active events.
func (s *MembershipService) ResolveActiveEvent(ctx context.Context, slug string) (*models.Event, error) {
	return s.findEvent(ctx, slug, true)
}

func (s *MembershipService) findEvent(ctx context.Context, slug string, activeOnly bool) (*models.Event, error) {
	q := s.db.WithContext(ctx).Where("slug = ?", strings.TrimSpace(slug))
	if activeOnly {
		q = q.Where("is_active")
	}

	var event models.Event
	if err := q.First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, storageError("resolve event", err)
	}
	return &event, nil
}

// EnsureUser upserts the user keyed by tg_id and refreshes last_seen.
func (s *MembershipService) EnsureUser(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	user, err := s.ensureUser(s.db.WithContext(ctx), req)
	if err != nil {
		return nil, asServiceError("ensure user", err)
	}
	return user, nil
}

func (s *MembershipService) ensureUser(tx *gorm.DB, req *RegisterRequest) (*models.User, error) {
	if req.TgID == 0 {
		return nil, badInput("tg_id required")
	}

	now := s.clock.Now()
	user := models.User{
		TgID:        req.TgID,
		Username:    nullable(req.Username),
		DisplayName: nullable(req.DisplayName),
		LastSeen:    &now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tg_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "display_name", "last_seen"}),
	}).Create(&user).Error
	if err != nil {
		return nil, storageError("upsert user", err)
	}

	// The conflict path does not hand back every column; reload for a full row.
	return findUser(tx, req.TgID)
}

// EnsureParticipant upserts the (event, user) participant row. Empty display
// name or avatar keep the stored values.
func (s *MembershipService) EnsureParticipant(ctx context.Context, eventID, userID uint, displayName, avatarURL string) (*models.Participant, error) {
	p, err := s.ensureParticipant(s.db.WithContext(ctx), eventID, userID, displayName, avatarURL)
	if err != nil {
		return nil, asServiceError("ensure participant", err)
	}
	return p, nil
}

func (s *MembershipService) ensureParticipant(tx *gorm.DB, eventID, userID uint, displayName, avatarURL string) (*models.Participant, error) {
	p := models.Participant{
		EventID:     eventID,
		UserID:      userID,
		DisplayName: nullable(displayName),
		AvatarURL:   nullable(avatarURL),
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"display_name": gorm.Expr("COALESCE(EXCLUDED.display_name, participants.display_name)"),
			"avatar_url":   gorm.Expr("COALESCE(EXCLUDED.avatar_url, participants.avatar_url)"),
		}),
	}).Create(&p).Error
	if err != nil {
		return nil, storageError("upsert participant", err)
	}

	var stored models.Participant
	if err := tx.Where("event_id = ? AND user_id = ?", eventID, userID).First(&stored).Error; err != nil {
		return nil, storageError("load participant", err)
	}
	return &stored, nil
}

// Join registers the user and enrolls them in an active event atomically.
func (s *MembershipService) Join(ctx context.Context, req *JoinRequest) (*JoinResult, error) {
	event, err := s.ResolveActiveEvent(ctx, req.EventSlug)
	if err != nil {
		return nil, err
	}

	var participant *models.Participant
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.ensureUser(tx, &RegisterRequest{
			TgID:        req.TgID,
			Username:    req.Username,
			DisplayName: req.DisplayName,
		})
		if err != nil {
			return err
		}
		participant, err = s.ensureParticipant(tx, event.ID, user.ID, req.DisplayName, req.AvatarURL)
		return err
	})
	if err != nil {
		return nil, asServiceError("join event", err)
	}

	return &JoinResult{Event: event, Participant: participant}, nil
}

// Me reports whether tgID is enrolled in the active event.
func (s *MembershipService) Me(ctx context.Context, slug string, tgID int64) (*MeResult, error) {
	event, err := s.ResolveActiveEvent(ctx, slug)
	if err != nil {
		return nil, err
	}

	p, err := s.findParticipant(ctx, event.ID, tgID)
	if errors.Is(err, ErrParticipantNotFound) {
		return &MeResult{Registered: false, Event: event}, nil
	}
	if err != nil {
		return nil, err
	}
	return &MeResult{Registered: true, Event: event, Participant: p}, nil
}

// ParticipantScore returns the current score of tgID in the event.
func (s *MembershipService) ParticipantScore(ctx context.Context, eventID uint, tgID int64) (int, error) {
	p, err := s.findParticipant(ctx, eventID, tgID)
	if err != nil {
		return 0, err
	}
	return p.Score, nil
}

func (s *MembershipService) findParticipant(ctx context.Context, eventID uint, tgID int64) (*models.Participant, error) {
	var p models.Participant
	err := s.db.WithContext(ctx).
		Select("participants.*").
		Joins("JOIN users ON users.id = participants.user_id").
		Where("participants.event_id = ? AND users.tg_id = ?", eventID, tgID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, storageError("load participant", err)
	}
	return &p, nil
}

// FindUser resolves a registered user by tg_id.
func (s *MembershipService) FindUser(ctx context.Context, tgID int64) (*models.User, error) {
	return findUser(s.db.WithContext(ctx), tgID)
}

func findUser(tx *gorm.DB, tgID int64) (*models.User, error) {
	var user models.User
	if err := tx.Where("tg_id = ?", tgID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storageError("load user", err)
	}
	return &user, nil
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
