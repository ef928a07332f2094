package chat

import (
	"sync"
	"time"
)

// EventQueue buffers stream events and hands them to a handler one at a
// time, waiting pace between two interpretations so every stage stays
// visible for a moment.
type EventQueue struct {
	pace   time.Duration
	handle func(Event)
	idle   func()

	mu         sync.Mutex
	entries    []Event
	processing bool
	closed     bool
	timer      *time.Timer
}

// NewEventQueue creates a queue. idle, when set, runs each time the queue
// runs dry after processing.
func NewEventQueue(pace time.Duration, handle func(Event), idle func()) *EventQueue {
	return &EventQueue{
		pace:   pace,
		handle: handle,
		idle:   idle,
	}
}

// Enqueue appends an event and starts draining if the queue is idle.
// Events enqueued after Reset are dropped.
func (q *EventQueue) Enqueue(e Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.entries = append(q.entries, e)
	if q.processing {
		q.mu.Unlock()
		return
	}
	q.processing = true
	q.mu.Unlock()

	q.drain()
}

// Len returns the number of events waiting
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Idle reports whether nothing is queued or being paced
func (q *EventQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.processing && len(q.entries) == 0
}

// Reset drops every queued event, stops the pacing timer and closes the
// queue. Safe to call more than once.
func (q *EventQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.entries = nil
	q.processing = false
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// drain interprets the head entry and schedules the next one
func (q *EventQueue) drain() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.entries) == 0 {
		q.processing = false
		q.mu.Unlock()
		if q.idle != nil {
			q.idle()
		}
		return
	}
	e := q.entries[0]
	q.entries[0] = Event{}
	q.entries = q.entries[1:]
	q.mu.Unlock()

	// The handler may call Reset, so it runs without the lock
	q.handle(e)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.timer = time.AfterFunc(q.pace, q.drain)
}
