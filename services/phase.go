package services

import (
	"context"
	"strings"

	"eventquiz/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxPhaseLength = 32

// PhaseService stores the operator's phase flags. The quiz engine never
// reads or writes them.
type PhaseService struct {
	db    *gorm.DB
	clock Clock
}

func NewPhaseService(db *gorm.DB, clock Clock) *PhaseService {
	if clock == nil {
		clock = SystemClock
	}
	return &PhaseService{db: db, clock: clock}
}

// PhasePatch lists the only fields an admin may change. Nil means unchanged.
type PhasePatch struct {
	Phase          *string `json:"phase"`
	QuizOpen       *bool   `json:"quiz_open"`
	LogicOpen      *bool   `json:"logic_open"`
	ContactOpen    *bool   `json:"contact_open"`
	OnehundredOpen *bool   `json:"onehundred_open"`
	AuctionOpen    *bool   `json:"auction_open"`
}

func (p *PhasePatch) columns() (map[string]interface{}, error) {
	cols := map[string]interface{}{}
	if p.Phase != nil {
		phase := strings.TrimSpace(*p.Phase)
		if phase == "" || len(phase) > maxPhaseLength {
			return nil, badInput("phase must be 1-%d characters", maxPhaseLength)
		}
		cols["phase"] = phase
	}
	flags := []struct {
		name  string
		value *bool
	}{
		{"quiz_open", p.QuizOpen},
		{"logic_open", p.LogicOpen},
		{"contact_open", p.ContactOpen},
		{"onehundred_open", p.OnehundredOpen},
		{"auction_open", p.AuctionOpen},
	}
	for _, f := range flags {
		if f.value != nil {
			cols[f.name] = *f.value
		}
	}
	return cols, nil
}

// Get returns the event's flags, creating the default row on first read.
func (s *PhaseService) Get(ctx context.Context, eventID uint) (*models.EventState, error) {
	db := s.db.WithContext(ctx)
	if err := s.ensureRow(db, eventID); err != nil {
		return nil, err
	}

	var state models.EventState
	if err := db.Where("event_id = ?", eventID).First(&state).Error; err != nil {
		return nil, storageError("load event state", err)
	}
	return &state, nil
}

// Patch updates the allow-listed flags present in patch.
func (s *PhaseService) Patch(ctx context.Context, eventID uint, patch *PhasePatch) (*models.EventState, error) {
	cols, err := patch.columns()
	if err != nil {
		return nil, err
	}
	cols["updated_at"] = s.clock.Now()

	var state models.EventState
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureRow(tx, eventID); err != nil {
			return err
		}
		if err := tx.Model(&models.EventState{}).Where("event_id = ?", eventID).Updates(cols).Error; err != nil {
			return storageError("update event state", err)
		}
		if err := tx.Where("event_id = ?", eventID).First(&state).Error; err != nil {
			return storageError("load event state", err)
		}
		return nil
	})
	if err != nil {
		return nil, asServiceError("patch event state", err)
	}

	log.WithFields(log.Fields{"event_id": eventID, "phase": state.Phase}).Info("event state updated")
	return &state, nil
}

func (s *PhaseService) ensureRow(tx *gorm.DB, eventID uint) error {
	row := models.EventState{EventID: eventID, Phase: "lobby", UpdatedAt: s.clock.Now()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return storageError("create event state", err)
	}
	return nil
}
