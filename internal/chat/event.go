package chat

import (
	"encoding/json"
	"strings"

	"athena-chat/internal/athena"
)

// EventName is the type of a server-sent event
type EventName string

const (
	EventMessage             EventName = "message"
	EventConnected           EventName = "connected"
	EventConversationCreated EventName = "conversation_created"
	EventProcessStarted      EventName = "process_started"
	EventRetrievingDocuments EventName = "retrieving_documents"
	EventRetrievedDocuments  EventName = "retrieved_documents"
	EventAnswerGeneration    EventName = "answer_generation"
	EventResponseCompleted   EventName = "response_completed"
	EventFinalResult         EventName = "final_result"
	EventCompleted           EventName = "completed"
	EventError               EventName = "error"
	EventTimeout             EventName = "timeout"
)

// Event is one queued stream event
type Event struct {
	Name EventName
	Data string
}

// Payload is the decoded body of an event. Every event kind reads only the
// fields it knows about.
type Payload struct {
	Event          string `json:"event"`
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Status         string `json:"status"`
	Success        *bool  `json:"success"`

	RelevantCount int `json:"relevant_count"`
	RelatedCount  int `json:"related_count"`

	ID               string                     `json:"id"`
	Answer           string                     `json:"answer"`
	SourceDocuments  []athena.DocumentReference `json:"source_documents"`
	RelatedDocuments []athena.DocumentReference `json:"related_documents"`

	// Raw holds the original data when it could not be decoded
	Raw string `json:"-"`
}

// IsRaw reports whether the payload failed to decode
func (p Payload) IsRaw() bool {
	return p.Raw != ""
}

// Succeeded reports whether the payload signals success
func (p Payload) Succeeded() bool {
	if p.Success != nil {
		return *p.Success
	}
	return strings.EqualFold(p.Status, "success")
}

// ParsePayload decodes event data. It never fails: data that is not a JSON
// object comes back wrapped in Raw.
func ParsePayload(data string) Payload {
	var p Payload
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return p
	}
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return Payload{Raw: data}
	}
	return p
}
