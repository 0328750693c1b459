// Package models defines the persisted chat entities.
package models

import (
	"time"
)

// ChatSession groups the messages of one conversation. A session is
// owned by exactly one user and the owner never changes.
type ChatSession struct {
	ID          string    `json:"chatId" gorm:"primaryKey"`
	UserID      string    `json:"userId" gorm:"index;index:idx_sessions_user_updated,priority:1"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated" gorm:"index:idx_sessions_user_updated,priority:2"`
}
