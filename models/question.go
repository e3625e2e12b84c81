package models

import (
	"time"

	"gorm.io/datatypes"
)

type Question struct {
	ID           uint                        `json:"id" gorm:"primaryKey"`
	RoundID      uint                        `json:"round_id" gorm:"not null"`
	QIndex       int                         `json:"q_index" gorm:"column:q_index;not null"`
	Text         string                      `json:"text" gorm:"not null"`
	Options      datatypes.JSONSlice[string] `json:"options" gorm:"type:jsonb;not null"`
	CorrectIndex int                         `json:"correct_index" gorm:"not null"`
}

func (Question) TableName() string {
	return "quiz_questions"
}

// ValidChoice reports whether idx points into the option list.
func (q *Question) ValidChoice(idx int) bool {
	return idx >= 0 && idx < len(q.Options)
}

type Answer struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	QuestionID  uint      `json:"question_id" gorm:"not null"`
	UserID      uint      `json:"user_id" gorm:"not null"`
	ChoiceIndex int       `json:"choice_index" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Answer) TableName() string {
	return "quiz_answers"
}
