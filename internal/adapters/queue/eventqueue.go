package queue

import (
	"sync"

	"github.com/davecap/coag-sense-tracker/internal/domain"
	"github.com/davecap/coag-sense-tracker/internal/ports"
)

// EventQueue is the bounded FIFO hand-off between the device worker and the
// serving-side fan-out loop. Enqueue never blocks: when full, the oldest
// non-critical event is discarded. Critical events (the terminal complete
// event) are always accepted, even if the queue momentarily exceeds its
// capacity because every buffered event is critical.
type EventQueue struct {
	mu   sync.Mutex
	data []domain.Event
	cap  int
}

func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventQueue{
		data: make([]domain.Event, 0, capacity),
		cap:  capacity,
	}
}

// Enqueue appends ev. It returns false when an event was discarded to make
// room (either an older non-critical one, or ev itself).
func (q *EventQueue) Enqueue(ev domain.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.data) < q.cap {
		q.data = append(q.data, ev)
		return true
	}

	if i := q.oldestDroppable(); i >= 0 {
		q.data = append(q.data[:i], q.data[i+1:]...)
		q.data = append(q.data, ev)
		return false
	}

	if ev.Critical() {
		q.data = append(q.data, ev)
		return true
	}
	return false
}

// oldestDroppable returns the index of the first non-critical event, or -1.
func (q *EventQueue) oldestDroppable() int {
	for i, ev := range q.data {
		if !ev.Critical() {
			return i
		}
	}
	return -1
}

// DequeueBatch removes and returns up to max events in FIFO order.
func (q *EventQueue) DequeueBatch(max int) []domain.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]domain.Event, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.EventQueue = (*EventQueue)(nil)
