package athena

import (
	"encoding/json"
)

// Sender identifies who produced a message
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is one exchanged conversation message
type Message struct {
	ID               string              `json:"id"`
	Answer           string              `json:"answer"`
	Sender           Sender              `json:"sender"`
	SourceDocuments  []DocumentReference `json:"source_documents,omitempty"`
	RelatedDocuments []DocumentReference `json:"related_documents,omitempty"`

	// ShouldType marks text that should be revealed with a typing animation
	ShouldType bool `json:"-"`
}

// DocumentReference points at a retrieved document or knowledge entry
type DocumentReference struct {
	DocumentID       string         `json:"document_id,omitempty"`
	KnowledgeEntryID string         `json:"knowledge_entry_id,omitempty"`
	Score            float64        `json:"score"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	DeletedAt        string         `json:"deleted_at,omitempty"`
	UpdatedAt        string         `json:"updated_at,omitempty"`
}

// DocumentTypes filters a question by document type. Empty means all types.
type DocumentTypes []string

// MarshalJSON encodes an empty filter as "all"
func (d DocumentTypes) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return json.Marshal("all")
	}
	return json.Marshal([]string(d))
}

// UnmarshalJSON accepts either "all" or a list of types
func (d *DocumentTypes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*d = list
	return nil
}

// ChatRequest is the body of a streaming chat submission
type ChatRequest struct {
	Question       string        `json:"question"`
	DocumentType   DocumentTypes `json:"document_type"`
	StartTime      string        `json:"start_time"`
	EndTime        string        `json:"end_time"`
	EnableSSE      bool          `json:"enable_sse"`
	ConversationID string        `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	Result struct {
		SSEEndpoint string `json:"sse_endpoint"`
	} `json:"result"`
}

// ConversationPage is one page of conversation history, newest first
type ConversationPage struct {
	Result         []Message `json:"result"`
	PaginationInfo struct {
		HasNext bool `json:"has_next"`
	} `json:"pagination_info"`
}
