package models

import (
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message source types
const (
	SourceText  = "text"
	SourceVoice = "voice"
)

// Message is one utterance within a chat session. The ID is assigned
// by the server before the first write attempt and doubles as the
// idempotency key for retries.
type Message struct {
	ID         string    `json:"messageId" gorm:"primaryKey"`
	ChatID     string    `json:"chatId" gorm:"index;index:idx_messages_chat_time,priority:1"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp" gorm:"index:idx_messages_chat_time,priority:2"`
	SourceType string    `json:"sourceType"`
}
