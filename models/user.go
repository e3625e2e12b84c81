package models

import "time"

type User struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	TgID        int64      `json:"tg_id" gorm:"column:tg_id;uniqueIndex;not null"`
	Username    *string    `json:"username"`
	DisplayName *string    `json:"display_name"`
	LastSeen    *time.Time `json:"last_seen"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Session is the presence record refreshed by heartbeats.
type Session struct {
	UserID    uint      `json:"user_id" gorm:"primaryKey"`
	StartedAt time.Time `json:"started_at"`
	LastPing  time.Time `json:"last_ping"`
}
