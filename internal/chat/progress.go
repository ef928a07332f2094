package chat

import "fmt"

// Stage is a named milestone of an in-flight request
type Stage string

const (
	StageIdle                Stage = ""
	StageConnecting          Stage = "connecting"
	StageConnected           Stage = "connected"
	StageConversationCreated Stage = "conversation_created"
	StageProcessStarted      Stage = "process_started"
	StageRetrievingDocuments Stage = "retrieving_documents"
	StageRetrievedDocuments  Stage = "retrieved_documents"
	StageGeneratingAnswer    Stage = "generating_answer"
	StageResponseCompleted   Stage = "response_completed"
	StageTimeout             Stage = "timeout"
	StageError               Stage = "error"
)

// Progress is the live narration of an in-flight request
type Progress struct {
	Stage   Stage
	Message string
}

// Active reports whether a request is being narrated
func (p Progress) Active() bool {
	return p.Stage != StageIdle
}

const (
	msgConnecting          = "Connecting to the assistant..."
	msgConnected           = "Connected. Waiting for the assistant..."
	msgConversationCreated = "Started a new conversation."
	msgProcessStarted      = "Processing your question..."
	msgRetrievingDocuments = "Searching the knowledge base..."
	msgGeneratingAnswer    = "Generating the answer..."
	msgResponseCompleted   = "Response completed."
	msgTimeout             = "The request timed out. Please try again."
	msgError               = "Something went wrong while answering. Please try again."
)

// retrievedMessage narrates the outcome of document retrieval
func retrievedMessage(relevant, related int) string {
	switch {
	case relevant > 0 && related > 0:
		return fmt.Sprintf("Found %s and %s.", plural(relevant, "relevant document"), plural(related, "related document"))
	case relevant > 0:
		return fmt.Sprintf("Found %s.", plural(relevant, "relevant document"))
	case related > 0:
		return fmt.Sprintf("No directly relevant documents, but found %s.", plural(related, "related document"))
	default:
		return "No matching documents found. Answering from general knowledge."
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
