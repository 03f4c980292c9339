package reveal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BytesmeSearch/internal/session"
)

func collect(t *testing.T, r *Run) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-r.C():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timeout waiting for reveal run")
		}
	}
}

func TestScheduleEmitsInOrder(t *testing.T) {
	s := NewScheduler(5*time.Millisecond, 5*time.Millisecond)
	run := s.Schedule([]session.ProductAttachment{{ProductID: "p1"}, {ProductID: "p2"}, {ProductID: "p3"}})

	events := collect(t, run)
	require.Equal(t, []Event{
		{ProductID: "p1", Index: 0},
		{ProductID: "p2", Index: 1},
		{ProductID: "p3", Index: 2},
	}, events)
	assert.Equal(t, 3, run.Emitted())

	select {
	case <-run.Done():
	case <-time.After(time.Second):
		t.Fatal("run did not finish")
	}
}

func TestScheduleRespectsPacing(t *testing.T) {
	delay := 40 * time.Millisecond
	stagger := 20 * time.Millisecond
	start := time.Now()
	run := NewScheduler(delay, stagger).ScheduleIDs([]string{"a", "b"})

	var at []time.Duration
	for range run.C() {
		at = append(at, time.Since(start))
	}
	require.Len(t, at, 2)
	assert.GreaterOrEqual(t, at[0], delay)
	assert.GreaterOrEqual(t, at[1]-at[0], stagger)
}

func TestCancelAfterFirstEventStopsEmission(t *testing.T) {
	run := NewScheduler(0, 300*time.Millisecond).ScheduleIDs([]string{"p1", "p2", "p3"})

	select {
	case ev := <-run.C():
		assert.Equal(t, "p1", ev.ProductID)
	case <-time.After(time.Second):
		t.Fatal("first event never fired")
	}
	run.Cancel()
	run.Cancel()

	rest := collect(t, run)
	assert.Empty(t, rest)
	assert.Equal(t, 1, run.Emitted())
}

func TestCancelKeepsEmittedEvents(t *testing.T) {
	run := NewScheduler(0, 300*time.Millisecond).ScheduleIDs([]string{"p1", "p2"})
	require.Eventually(t, func() bool { return run.Emitted() == 1 }, time.Second, time.Millisecond)
	run.Cancel()

	events := collect(t, run)
	require.Len(t, events, 1)
	assert.Equal(t, "p1", events[0].ProductID)
}

func TestScheduleEmpty(t *testing.T) {
	run := NewScheduler(time.Hour, time.Hour).ScheduleIDs(nil)
	assert.Empty(t, collect(t, run))
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := NewScheduler(-1, 0)
	assert.Equal(t, DefaultDelay, s.Delay)
	assert.Equal(t, DefaultStagger, s.Stagger)

	s = NewScheduler(0, -time.Second)
	assert.Equal(t, time.Duration(0), s.Delay)
	assert.Equal(t, DefaultStagger, s.Stagger)
}
