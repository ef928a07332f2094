package chat

import (
	"go.uber.org/zap"

	"athena-chat/internal/athena"
)

type eventHandler func(s *Session, p Payload)

// eventHandlers maps each named stream event to its effect
var eventHandlers = map[EventName]eventHandler{
	EventConnected:           (*Session).onConnected,
	EventConversationCreated: (*Session).onConversationCreated,
	EventProcessStarted:      (*Session).onProcessStarted,
	EventRetrievingDocuments: (*Session).onRetrievingDocuments,
	EventRetrievedDocuments:  (*Session).onRetrievedDocuments,
	EventAnswerGeneration:    (*Session).onAnswerGeneration,
	EventResponseCompleted:   (*Session).onResponseCompleted,
	EventFinalResult:         (*Session).onFinalResult,
	EventCompleted:           (*Session).onCompleted,
	EventError:               (*Session).onError,
	EventTimeout:             (*Session).onTimeout,
}

// dispatchLocked runs the handler for name. Unknown events are logged and
// otherwise ignored.
func (s *Session) dispatchLocked(name EventName, p Payload) {
	if name == EventMessage {
		// The generic channel may carry a named event in its body
		inner := EventName(p.Event)
		if inner == "" {
			inner = EventName(p.Type)
		}
		h, ok := eventHandlers[inner]
		if !ok {
			s.log.Debug("generic message ignored", zap.String("inner", string(inner)), zap.Bool("raw", p.IsRaw()))
			return
		}
		name = inner
		s.runHandler(name, h, p)
		return
	}

	h, ok := eventHandlers[name]
	if !ok {
		s.log.Info("unknown event ignored", zap.String("event", string(name)))
		return
	}
	s.runHandler(name, h, p)
}

func (s *Session) runHandler(name EventName, h eventHandler, p Payload) {
	if p.IsRaw() {
		s.log.Warn("malformed event payload", zap.String("event", string(name)), zap.String("raw", p.Raw))
	} else {
		s.log.Debug("event", zap.String("event", string(name)))
	}
	h(s, p)
}

func (s *Session) onConnected(p Payload) {
	s.setProgressLocked(StageConnected, messageOr(p, msgConnected))
}

func (s *Session) onConversationCreated(p Payload) {
	s.setProgressLocked(StageConversationCreated, messageOr(p, msgConversationCreated))
	s.adoptConversationLocked(p.ConversationID)
}

func (s *Session) onProcessStarted(p Payload) {
	s.setProgressLocked(StageProcessStarted, messageOr(p, msgProcessStarted))
}

func (s *Session) onRetrievingDocuments(p Payload) {
	s.setProgressLocked(StageRetrievingDocuments, messageOr(p, msgRetrievingDocuments))
}

func (s *Session) onRetrievedDocuments(p Payload) {
	s.setProgressLocked(StageRetrievedDocuments, retrievedMessage(p.RelevantCount, p.RelatedCount))
}

func (s *Session) onAnswerGeneration(p Payload) {
	s.setProgressLocked(StageGeneratingAnswer, messageOr(p, msgGeneratingAnswer))
}

func (s *Session) onResponseCompleted(p Payload) {
	if !p.Succeeded() {
		return
	}
	s.setProgressLocked(StageResponseCompleted, messageOr(p, msgResponseCompleted))
}

func (s *Session) onFinalResult(p Payload) {
	msg := athena.Message{
		ID:               p.ID,
		Answer:           p.Answer,
		Sender:           athena.SenderBot,
		SourceDocuments:  p.SourceDocuments,
		RelatedDocuments: p.RelatedDocuments,
		ShouldType:       true,
	}
	if p.IsRaw() {
		msg.Answer = p.Raw
	}

	merged := s.messages.Reconcile(msg)
	s.log.Debug("final result applied",
		zap.String("message_id", msg.ID),
		zap.Bool("merged", merged),
		zap.Int("sources", len(msg.SourceDocuments)),
		zap.Int("related", len(msg.RelatedDocuments)))
	s.observer.MessagesChanged(s.messages.Snapshot())

	s.adoptConversationLocked(p.ConversationID)
	s.clearProgressLocked(s.opts.FinalClearDelay)
}

func (s *Session) onCompleted(p Payload) {
	s.stopProgressTimerLocked()
	s.resetProgressLocked()
	s.finishLocked()
}

func (s *Session) onError(p Payload) {
	s.log.Warn("stream reported an error", zap.String("message", p.Message), zap.String("raw", p.Raw))
	s.setProgressLocked(StageError, messageOr(p, msgError))
	s.scheduleProgressResetLocked(s.opts.FinalClearDelay)
	s.finishLocked()
}

func (s *Session) onTimeout(p Payload) {
	s.setProgressLocked(StageTimeout, messageOr(p, msgTimeout))
	s.scheduleProgressResetLocked(s.opts.TimeoutClearDelay)
	s.finishLocked()
}

func messageOr(p Payload, fallback string) string {
	if p.Message != "" {
		return p.Message
	}
	return fallback
}
