package stream

import (
	"sync"

	"BytesmeSearch/internal/reveal"
	"BytesmeSearch/internal/session"
)

// State is the lifecycle state of the current streamed turn
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventType identifies what an Event reports
type EventType string

const (
	EventStateChanged  EventType = "state_changed"
	EventPending       EventType = "pending"
	EventTurnCompleted EventType = "turn_completed"
	EventFailed        EventType = "failed"
	EventReset         EventType = "reset"
)

// Event is one notification for the presentation layer
type Event struct {
	Type    EventType
	State   State
	Pending session.PendingSnapshot // EventPending
	Turn    session.AssistantTurn   // EventTurnCompleted
	Reveal  *reveal.Run             // EventTurnCompleted
	Err     error                   // EventFailed

	// Conversation is the whole conversation as of the completed turn (EventTurnCompleted)
	Conversation session.Conversation
}

// eventQueue delivers events in order without ever blocking the producer
type eventQueue struct {
	out chan Event

	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	closed  bool
	done    chan struct{}
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.forward()
	return q
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) popLocked() (Event, bool) {
	if len(q.pending) == 0 {
		return Event{}, false
	}
	ev := q.pending[0]
	q.pending[0] = Event{}
	q.pending = q.pending[1:]
	return ev, true
}

func (q *eventQueue) forward() {
	defer close(q.out)
	for {
		q.mu.Lock()
		ev, ok := q.popLocked()
		q.mu.Unlock()

		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}

		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.pending = nil
	close(q.done)
}
