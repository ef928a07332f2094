package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const maxTitleLength = 60

// Manager handles persistence of recently used conversations
type Manager struct {
	filePath   string
	mu         sync.RWMutex
	history    *History
	maxEntries int
	now        func() time.Time
}

// NewManager creates a new history manager
func NewManager(filePath string, maxEntries int) *Manager {
	return &Manager{
		filePath:   filePath,
		history:    &History{Conversations: []Entry{}},
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Load loads history from disk
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Create directory if it doesn't exist
	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	data, err := os.ReadFile(m.filePath)
	if os.IsNotExist(err) {
		m.history = &History{Conversations: []Entry{}}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read history file: %w", err)
	}

	var loaded History
	if err := json.Unmarshal(data, &loaded); err != nil {
		// Corrupted file - backup and start fresh
		backupPath := m.filePath + ".backup"
		if rerr := os.Rename(m.filePath, backupPath); rerr != nil {
			return fmt.Errorf("failed to back up corrupt history: %w", rerr)
		}
		m.history = &History{Conversations: []Entry{}}
		return fmt.Errorf("history file was corrupt, moved to %s: %w", backupPath, err)
	}
	if loaded.Conversations == nil {
		loaded.Conversations = []Entry{}
	}
	m.history = &loaded
	return nil
}

// Touch records a conversation as just used and saves. An empty title keeps
// the one already stored.
func (m *Manager) Touch(conversationID, title string) error {
	if conversationID == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := Entry{ConversationID: conversationID, Title: shortTitle(title), UpdatedAt: m.now()}
	rest := make([]Entry, 0, len(m.history.Conversations)+1)
	for _, e := range m.history.Conversations {
		if e.ConversationID == conversationID {
			if entry.Title == "" {
				entry.Title = e.Title
			}
			continue
		}
		rest = append(rest, e)
	}
	m.history.Conversations = append([]Entry{entry}, rest...)

	return m.saveUnlocked()
}

// Recent returns up to limit conversations, newest first
func (m *Manager) Recent(limit int) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history.Conversations
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return append([]Entry(nil), entries...)
}

// Lookup resolves a conversation id, or a unique prefix of one
func (m *Manager) Lookup(idOrPrefix string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var match Entry
	matches := 0
	for _, e := range m.history.Conversations {
		if e.ConversationID == idOrPrefix {
			return e, true
		}
		if idOrPrefix != "" && strings.HasPrefix(e.ConversationID, idOrPrefix) {
			match = e
			matches++
		}
	}
	return match, matches == 1
}

// Save persists the history to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUnlocked()
}

// saveUnlocked saves without acquiring the lock (must be called with lock held)
func (m *Manager) saveUnlocked() error {
	// Prune old entries if needed
	if len(m.history.Conversations) > m.maxEntries {
		m.history.Conversations = m.history.Conversations[:m.maxEntries]
	}

	data, err := json.MarshalIndent(m.history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	// Write to temp file
	tempPath := m.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, m.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// shortTitle turns the first question of a conversation into a list title
func shortTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxTitleLength {
		return s
	}
	return strings.TrimSpace(string(r[:maxTitleLength-3])) + "..."
}
