package models

import "time"

type Participant struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	EventID     uint      `json:"event_id" gorm:"not null;uniqueIndex:participants_event_user_key"`
	UserID      uint      `json:"user_id" gorm:"not null;uniqueIndex:participants_event_user_key"`
	DisplayName *string   `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url" gorm:"column:avatar_url"`
	Score       int       `json:"score" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`

	// Relationships
	User *User `json:"-"`
}
