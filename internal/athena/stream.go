package athena

import (
	"context"
	"errors"
	"io"
	"sync"

	"athena-chat/internal/sse"
)

// Stream is an open server-sent-event connection
type Stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	events chan sse.Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	closed    bool
}

func newStream(body io.ReadCloser, cancel context.CancelFunc) *Stream {
	s := &Stream{
		body:   body,
		cancel: cancel,
		events: make(chan sse.Event),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

// Events delivers events in arrival order. The channel is closed when the
// stream ends; Err reports why.
func (s *Stream) Events() <-chan sse.Event {
	return s.events
}

// Err returns the error that ended the stream, nil for a clean end or Close
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the connection down. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.cancel()
		s.body.Close()
	})
	return nil
}

func (s *Stream) read() {
	defer close(s.events)
	defer s.cancel()
	defer s.body.Close()

	reader := sse.NewReader(s.body)
	for {
		ev, err := reader.Next()
		if err != nil {
			s.mu.Lock()
			if !errors.Is(err, io.EOF) && !s.closed {
				s.err = err
			}
			s.mu.Unlock()
			return
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
