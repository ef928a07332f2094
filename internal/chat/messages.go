package chat

import (
	"sync"

	"athena-chat/internal/athena"
)

// MessageList is a conversation ordered newest first. Older pages are
// appended at the end, new turns are prepended.
type MessageList struct {
	mu       sync.RWMutex
	messages []athena.Message
}

// NewMessageList creates an empty list
func NewMessageList() *MessageList {
	return &MessageList{}
}

// Len returns the number of messages
func (l *MessageList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Snapshot returns a copy of the list
func (l *MessageList) Snapshot() []athena.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]athena.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Prepend adds msg as the newest message
func (l *MessageList) Prepend(msg athena.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append([]athena.Message{msg}, l.messages...)
}

// Append adds older messages at the end, skipping ids already present
func (l *MessageList) Append(older []athena.Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]bool, len(l.messages))
	for _, m := range l.messages {
		if m.ID != "" {
			seen[m.ID+"/"+string(m.Sender)] = true
		}
	}

	added := 0
	for _, m := range older {
		if m.ID != "" && seen[m.ID+"/"+string(m.Sender)] {
			continue
		}
		l.messages = append(l.messages, m)
		added++
	}
	return added
}

// Replace swaps the whole list
func (l *MessageList) Replace(msgs []athena.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append([]athena.Message(nil), msgs...)
}

// Clear empties the list
func (l *MessageList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
}

// Reconcile folds a finished turn into the list. When the newest message
// already carries msg.ID its answer and documents are replaced in place,
// otherwise msg is prepended. It reports whether a merge happened.
func (l *MessageList) Reconcile(msg athena.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ID != "" && len(l.messages) > 0 && l.messages[0].ID == msg.ID {
		head := &l.messages[0]
		head.Answer = msg.Answer
		head.SourceDocuments = msg.SourceDocuments
		head.RelatedDocuments = msg.RelatedDocuments
		head.ShouldType = msg.ShouldType
		return true
	}

	l.messages = append([]athena.Message{msg}, l.messages...)
	return false
}

// Find returns the message with the given id
func (l *MessageList) Find(id string) (athena.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id == "" {
		return athena.Message{}, false
	}
	for _, m := range l.messages {
		if m.ID == id {
			return m, true
		}
	}
	return athena.Message{}, false
}
