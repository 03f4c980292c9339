// Package reveal paces the appearance of product attachments once a turn completes.
//
// A Run is driven purely by timers: the first event fires after Delay, every
// following event Stagger after the previous one. A Run is single use; schedule
// a new one for every completed turn.
package reveal

import (
	"sync"
	"time"

	"BytesmeSearch/internal/session"
)

const (
	DefaultDelay   = 5 * time.Second
	DefaultStagger = 250 * time.Millisecond
)

// Event tells the presentation layer that one product should now be shown
type Event struct {
	ProductID string
	Index     int
}

// Scheduler holds the pacing policy
type Scheduler struct {
	Delay   time.Duration
	Stagger time.Duration
}

// NewScheduler returns a scheduler with the given pacing. A negative delay or a
// non-positive stagger falls back to the default; a zero delay reveals the first product at once.
func NewScheduler(delay, stagger time.Duration) Scheduler {
	if delay < 0 {
		delay = DefaultDelay
	}
	if stagger <= 0 {
		stagger = DefaultStagger
	}
	return Scheduler{Delay: delay, Stagger: stagger}
}

// Schedule starts a run emitting one event per product, in input order
func (s Scheduler) Schedule(products []session.ProductAttachment) *Run {
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ProductID
	}
	return s.ScheduleIDs(ids)
}

// ScheduleIDs is Schedule for bare product ids
func (s Scheduler) ScheduleIDs(ids []string) *Run {
	r := &Run{
		out:  make(chan Event, len(ids)),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.loop(append([]string(nil), ids...), s.Delay, s.Stagger)
	return r
}

// Run is one scheduled reveal sequence
type Run struct {
	out  chan Event
	stop chan struct{}
	done chan struct{}

	once    sync.Once
	mu      sync.Mutex
	emitted int
}

// C delivers the events. It is closed after the last event or once a cancelled run stops.
// Events already emitted stay readable after Cancel.
func (r *Run) C() <-chan Event {
	return r.out
}

// Done is closed when the run stops emitting
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Emitted returns how many events were emitted so far
func (r *Run) Emitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitted
}

// Cancel stops further emission. Safe to call repeatedly and after completion.
func (r *Run) Cancel() {
	if r == nil {
		return
	}
	r.once.Do(func() { close(r.stop) })
}

func (r *Run) loop(ids []string, delay, stagger time.Duration) {
	defer close(r.done)
	defer close(r.out)

	wait := delay
	for i, id := range ids {
		timer := time.NewTimer(wait)
		select {
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		// a cancel that raced the timer wins
		select {
		case <-r.stop:
			return
		default:
		}

		// out has room for every id, so this never blocks
		r.out <- Event{ProductID: id, Index: i}
		r.mu.Lock()
		r.emitted++
		r.mu.Unlock()
		wait = stagger
	}
}
