package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"athena-chat/internal/athena"
	"athena-chat/internal/sse"
)

type fakeStream struct {
	mu     sync.Mutex
	ch     chan sse.Event
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan sse.Event, 64)}
}

func (f *fakeStream) Events() <-chan sse.Event { return f.ch }
func (f *fakeStream) Err() error               { return nil }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

// send delivers an event; it reports false once the stream is closed
func (f *fakeStream) send(name, data string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.ch <- sse.Event{Name: name, Data: data}
	return true
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeBackend struct {
	mu         sync.Mutex
	requests   []athena.ChatRequest
	startErr   error
	blockFirst chan struct{}
	streams    []*fakeStream

	pages    map[int]*athena.ConversationPage
	fetches  []int
	fetchErr error
	release  chan struct{}
}

func (b *fakeBackend) StartChat(ctx context.Context, req athena.ChatRequest) (string, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	n := len(b.requests)
	block := b.blockFirst
	err := b.startErr
	b.mu.Unlock()

	if n == 1 && block != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-block:
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/chat/sse/stream/%d", n), nil
}

func (b *fakeBackend) OpenStream(ctx context.Context, endpoint string) (EventStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := newFakeStream()
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *fakeBackend) FetchConversation(ctx context.Context, conversationID string, page int) (*athena.ConversationPage, error) {
	b.mu.Lock()
	b.fetches = append(b.fetches, page)
	release := b.release
	err := b.fetchErr
	result, ok := b.pages[page]
	b.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return &athena.ConversationPage{}, nil
	}
	return result, nil
}

func (b *fakeBackend) stream(i int) *fakeStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[i]
}

func (b *fakeBackend) streamCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

func (b *fakeBackend) requestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func (b *fakeBackend) request(i int) athena.ChatRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[i]
}

func (b *fakeBackend) fetched() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.fetches...)
}

type recorder struct {
	mu         sync.Mutex
	progress   []Progress
	messages   []athena.Message
	routes     []Route
	toasts     []string
	highlights []string
	finished   int
}

func (r *recorder) ProgressChanged(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) MessagesChanged(msgs []athena.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = msgs
}

func (r *recorder) RouteChanged(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *recorder) Toast(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, id)
}

func (r *recorder) Highlight(msg athena.Message, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.highlights = append(r.highlights, msg.ID)
}

func (r *recorder) TurnFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
}

func (r *recorder) stages() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Stage
	for _, p := range r.progress {
		if p.Stage != StageIdle {
			out = append(out, p.Stage)
		}
	}
	return out
}

func (r *recorder) hasStage(stage Stage) bool {
	for _, s := range r.stages() {
		if s == stage {
			return true
		}
	}
	return false
}

func (r *recorder) progressMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.progress {
		if p.Stage != StageIdle {
			out = append(out, p.Message)
		}
	}
	return out
}

func (r *recorder) toastIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.toasts...)
}

func (r *recorder) highlighted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.highlights...)
}

func (r *recorder) finishedTurns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *recorder) lastRoute() Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.routes) == 0 {
		return Route{}
	}
	return r.routes[len(r.routes)-1]
}

func testOptions() Options {
	return Options{
		Pace:              5 * time.Millisecond,
		FinalClearDelay:   20 * time.Millisecond,
		TimeoutClearDelay: 40 * time.Millisecond,
		HighlightDuration: 10 * time.Millisecond,
		MaxSearchAttempts: 10,
	}
}

func newTestSession(t *testing.T, opts Options) (*Session, *fakeBackend, *recorder) {
	t.Helper()
	backend := &fakeBackend{pages: map[int]*athena.ConversationPage{}}
	obs := &recorder{}
	s := NewSession(backend, obs, zap.NewNop(), opts)
	t.Cleanup(s.Stop)
	return s, backend, obs
}

func page(hasNext bool, msgs ...athena.Message) *athena.ConversationPage {
	p := &athena.ConversationPage{Result: msgs}
	p.PaginationInfo.HasNext = hasNext
	return p
}

func bot(id, answer string) athena.Message {
	return athena.Message{ID: id, Answer: answer, Sender: athena.SenderBot}
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
