package domain

import (
	"time"
)

// ChatKind distinguishes plain text from emoji-only messages.
type ChatKind string

const (
	ChatKindText  ChatKind = "text"
	ChatKindEmoji ChatKind = "emoji"
)

// ChatMessage is immutable once created and lives only for the duration of
// the broadcast; there is no history replay for late joiners.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	Kind       ChatKind  `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
}
