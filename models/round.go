package models

import "time"

type Round struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	EventID   uint      `json:"event_id" gorm:"not null"`
	Title     string    `json:"title" gorm:"not null"`
	IsOpen    bool      `json:"is_open" gorm:"not null;default:false"`
	CurrentQ  int       `json:"current_q" gorm:"column:current_q;not null;default:0"`
	IsBank    bool      `json:"is_bank" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`

	// Relationships
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:RoundID"`
}

func (Round) TableName() string {
	return "quiz_rounds"
}

// Reveal marks a (round, question index) pair as already scored.
type Reveal struct {
	RoundID    uint      `json:"round_id" gorm:"primaryKey"`
	QIndex     int       `json:"q_index" gorm:"column:q_index;primaryKey"`
	QuestionID uint      `json:"question_id" gorm:"not null"`
	Awarded    int       `json:"awarded" gorm:"not null;default:0"`
	RevealedAt time.Time `json:"revealed_at"`
}

func (Reveal) TableName() string {
	return "quiz_reveals"
}
