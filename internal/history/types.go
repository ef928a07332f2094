package history

import (
	"time"
)

// History is the list of recently used conversations, newest first
type History struct {
	Conversations []Entry `json:"conversations"`
}

// Entry is one conversation the user has opened or started
type Entry struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	UpdatedAt      time.Time `json:"updated_at"`
}
