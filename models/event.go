package models

import "time"

type Event struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Slug      string    `json:"slug" gorm:"uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"not null"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"-"`
}

// EventState holds the operator-controlled phase flags of an event.
type EventState struct {
	EventID        uint      `json:"-" gorm:"primaryKey"`
	Phase          string    `json:"phase" gorm:"not null;default:lobby"`
	QuizOpen       bool      `json:"quiz_open" gorm:"not null;default:false"`
	LogicOpen      bool      `json:"logic_open" gorm:"not null;default:false"`
	ContactOpen    bool      `json:"contact_open" gorm:"not null;default:false"`
	OnehundredOpen bool      `json:"onehundred_open" gorm:"not null;default:false"`
	AuctionOpen    bool      `json:"auction_open" gorm:"not null;default:false"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (EventState) TableName() string {
	return "event_state"
}
