package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"athena-chat/internal/athena"
	"athena-chat/internal/sse"
)

// EventStream is an open server-push connection
type EventStream interface {
	Events() <-chan sse.Event
	Err() error
	Close() error
}

// Backend is what a Session needs from the chat service
type Backend interface {
	Fetcher
	StartChat(ctx context.Context, req athena.ChatRequest) (string, error)
	OpenStream(ctx context.Context, endpoint string) (EventStream, error)
}

type athenaBackend struct {
	*athena.Client
}

func (b athenaBackend) OpenStream(ctx context.Context, endpoint string) (EventStream, error) {
	stream, err := b.Client.OpenStream(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// NewAthenaBackend adapts the HTTP client to a Backend
func NewAthenaBackend(c *athena.Client) Backend {
	return athenaBackend{Client: c}
}

// Options tunes pacing and search behaviour
type Options struct {
	// Pace is the pause between two interpreted events
	Pace time.Duration
	// FinalClearDelay keeps the last progress message visible after a turn ends
	FinalClearDelay time.Duration
	// TimeoutClearDelay keeps the timeout message visible
	TimeoutClearDelay time.Duration
	// HighlightDuration is how long a deep-linked message stays highlighted
	HighlightDuration time.Duration
	// MaxSearchAttempts bounds the pages walked when looking for a message
	MaxSearchAttempts int
}

// DefaultOptions returns the pacing used by the web client
func DefaultOptions() Options {
	return Options{
		Pace:              1000 * time.Millisecond,
		FinalClearDelay:   1000 * time.Millisecond,
		TimeoutClearDelay: 3000 * time.Millisecond,
		HighlightDuration: 2500 * time.Millisecond,
		MaxSearchAttempts: 10,
	}
}

// Session owns one chat view: its conversation, its message list and at most
// one in-flight turn with its event stream.
type Session struct {
	backend  Backend
	observer Observer
	log      *zap.Logger
	opts     Options

	messages *MessageList
	pages    *Paginator

	mu             sync.Mutex
	route          Route
	conversationID string
	progress       Progress
	progressGen    uint64
	progressTimer  *time.Timer

	// Current turn. cancel is set from submission until teardown.
	cancel      context.CancelFunc
	queue       *EventQueue
	stream      EventStream
	streamEnded bool
	// submission invalidates results of abandoned submissions
	submission uint64
}

// NewSession creates a session for a new, empty chat
func NewSession(backend Backend, observer Observer, log *zap.Logger, opts Options) *Session {
	if observer == nil {
		observer = NopObserver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("chat")
	messages := NewMessageList()
	return &Session{
		backend:  backend,
		observer: observer,
		log:      log,
		opts:     opts,
		messages: messages,
		pages:    NewPaginator(backend, messages, log.Named("pages")),
	}
}

// Submit starts a turn unless one is still in flight
func (s *Session) Submit(ctx context.Context, question string, filters Filters) error {
	if s.Busy() {
		return ErrTurnInFlight
	}
	return s.Start(ctx, question, filters)
}

// Start submits question and opens the answer stream. A turn already in
// flight is torn down first, so at most one stream is ever open. It returns
// once the stream is open; the turn proceeds in the background.
func (s *Session) Start(ctx context.Context, question string, filters Filters) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyQuestion
	}
	if err := filters.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.finishLocked()
	s.stopProgressTimerLocked()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	sub := s.submission

	s.messages.Prepend(athena.Message{Answer: question, Sender: athena.SenderUser})
	s.observer.MessagesChanged(s.messages.Snapshot())
	s.setProgressLocked(StageConnecting, msgConnecting)

	req := filters.request(question, s.conversationID)
	s.mu.Unlock()

	log := s.log.With(zap.Uint64("submission", sub))
	log.Debug("submitting question", zap.String("conversation_id", req.ConversationID))

	var stream EventStream
	endpoint, err := s.backend.StartChat(ctx, req)
	if err == nil {
		stream, err = s.backend.OpenStream(ctx, endpoint)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sub != s.submission {
		// Stopped or superseded while the request was running
		if stream != nil {
			stream.Close()
		}
		cancel()
		log.Debug("submission superseded")
		return ErrCanceled
	}

	if err != nil {
		canceled := errors.Is(err, context.Canceled) || ctx.Err() != nil
		cancel()
		s.cancel = nil
		s.submission++
		s.resetProgressLocked()

		if canceled {
			log.Debug("submission canceled", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrCanceled, err)
		}

		log.Error("chat submission failed", zap.Error(err))
		s.observer.Toast(ToastChatError, "Could not reach the assistant. Please try again.")
		s.route.IsError = true
		s.observer.RouteChanged(s.route)
		return fmt.Errorf("start chat: %w", err)
	}

	var q *EventQueue
	q = NewEventQueue(s.opts.Pace,
		func(e Event) { s.interpret(q, e) },
		func() { s.queueIdle(q) },
	)
	s.queue = q
	s.stream = stream
	s.streamEnded = false
	go s.pump(stream, q)

	log.Debug("event stream open", zap.String("endpoint", endpoint))
	return nil
}

// Stop tears the current turn down: the request is cancelled, the stream is
// closed and queued events are dropped. Safe to call at any time.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress.Active() {
		s.stopProgressTimerLocked()
		s.resetProgressLocked()
	}
	s.finishLocked()
}

// Busy reports whether a turn is in flight
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Messages returns the conversation, newest first
func (s *Session) Messages() []athena.Message {
	return s.messages.Snapshot()
}

// Progress returns the live progress narration
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Route returns the current route
func (s *Session) Route() Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// ConversationID returns the open conversation, empty for a new chat
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Cursor returns the history paging position
func (s *Session) Cursor() Cursor {
	return s.pages.Cursor()
}

// NewChat drops the conversation and starts over with an empty chat
func (s *Session) NewChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.observer.RouteChanged(s.route)
}

// Navigate moves the session to r. Switching conversation loads its first
// page, a msgId is searched for and then dropped from the route, and leaving
// an error route resets the whole chat.
func (s *Session) Navigate(ctx context.Context, r Route) error {
	s.mu.Lock()
	if s.route.IsError && !r.IsError {
		s.resetLocked()
	}

	load := false
	if r.ConversationID != s.conversationID {
		s.finishLocked()
		s.stopProgressTimerLocked()
		s.resetProgressLocked()
		s.conversationID = r.ConversationID
		s.messages.Clear()
		s.pages.Reset(r.ConversationID)
		s.observer.MessagesChanged(s.messages.Snapshot())
		load = r.ConversationID != ""
	}
	s.route = Route{ConversationID: r.ConversationID, IsError: r.IsError}
	s.observer.RouteChanged(s.route)
	s.mu.Unlock()

	if load {
		err := s.pages.LoadInitial(ctx)
		if err := s.afterLoad(err); err != nil {
			return err
		}
	}

	if r.MessageID != "" {
		return s.FindMessage(ctx, r.MessageID)
	}
	return nil
}

// LoadMore loads the next page of older messages
func (s *Session) LoadMore(ctx context.Context) (int, error) {
	n, err := s.pages.LoadMore(ctx)
	if err := s.afterLoad(err); err != nil {
		return 0, err
	}
	return n, nil
}

// FindMessage brings the message with id into the list and highlights it
func (s *Session) FindMessage(ctx context.Context, id string) error {
	msg, found, err := s.pages.FindMessageByID(ctx, id, s.opts.MaxSearchAttempts)
	if err := s.afterLoad(err); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !found {
		s.log.Info("message not found", zap.String("message_id", id), zap.String("conversation_id", s.conversationID))
		s.observer.Toast(ToastMessageNotFound, "The linked message could not be found in this conversation.")
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	s.observer.Highlight(msg, s.opts.HighlightDuration)
	return nil
}

// afterLoad publishes the list after a history fetch and reports failures
func (s *Session) afterLoad(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", ErrCanceled, err)
		}
		s.log.Error("history fetch failed", zap.Error(err))
		s.observer.Toast(ToastHistoryError, "Could not load the conversation history.")
		return err
	}
	s.observer.MessagesChanged(s.messages.Snapshot())
	return nil
}

// pump feeds stream events into the turn's queue until the stream ends
func (s *Session) pump(stream EventStream, q *EventQueue) {
	for ev := range stream.Events() {
		q.Enqueue(Event{Name: EventName(ev.Name), Data: ev.Data})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != stream {
		return
	}
	if err := stream.Err(); err != nil {
		s.log.Warn("event stream failed", zap.Error(err))
	} else {
		s.log.Debug("event stream closed by server")
	}
	// Whatever is queued still plays out
	s.streamEnded = true
	if q.Idle() {
		s.finishLocked()
	}
}

func (s *Session) queueIdle(q *EventQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == q && s.streamEnded {
		s.finishLocked()
	}
}

// interpret applies one event of the current turn
func (s *Session) interpret(q *EventQueue, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != q {
		return
	}
	s.dispatchLocked(e.Name, ParsePayload(e.Data))
}

// finishLocked ends the current turn, if any, and announces it
func (s *Session) finishLocked() {
	active := s.cancel != nil
	s.teardownLocked()
	if active {
		s.observer.TurnFinished()
	}
}

func (s *Session) teardownLocked() {
	s.submission++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	if s.queue != nil {
		s.queue.Reset()
		s.queue = nil
	}
	s.streamEnded = false
}

// resetLocked returns to an empty, unsaved chat
func (s *Session) resetLocked() {
	s.finishLocked()
	s.stopProgressTimerLocked()
	s.resetProgressLocked()
	s.conversationID = ""
	s.route = Route{}
	s.messages.Clear()
	s.pages.Reset("")
	s.observer.MessagesChanged(s.messages.Snapshot())
}

// adoptConversationLocked takes over a conversation id issued by the server
func (s *Session) adoptConversationLocked(id string) {
	if id == "" || id == s.conversationID {
		return
	}
	s.log.Debug("conversation adopted", zap.String("conversation_id", id))
	s.conversationID = id
	s.pages.Adopt(id)
	if s.route.Generic() {
		s.route.ConversationID = id
		s.observer.RouteChanged(s.route)
	}
}

func (s *Session) setProgressLocked(stage Stage, message string) {
	s.progress = Progress{Stage: stage, Message: message}
	s.observer.ProgressChanged(s.progress)
}

func (s *Session) resetProgressLocked() {
	if s.progress == (Progress{}) {
		return
	}
	s.progress = Progress{}
	s.observer.ProgressChanged(s.progress)
}

// clearProgressLocked leaves the stage immediately and drops the message
// after delay
func (s *Session) clearProgressLocked(delay time.Duration) {
	if s.progress.Stage != StageIdle {
		s.progress.Stage = StageIdle
		s.observer.ProgressChanged(s.progress)
	}
	s.scheduleProgressResetLocked(delay)
}

// scheduleProgressResetLocked replaces any pending reset with one after delay
func (s *Session) scheduleProgressResetLocked(delay time.Duration) {
	s.stopProgressTimerLocked()
	if delay <= 0 {
		s.resetProgressLocked()
		return
	}
	gen := s.progressGen
	s.progressTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.progressGen {
			return
		}
		s.progressTimer = nil
		s.resetProgressLocked()
	})
}

func (s *Session) stopProgressTimerLocked() {
	s.progressGen++
	if s.progressTimer != nil {
		s.progressTimer.Stop()
		s.progressTimer = nil
	}
}
