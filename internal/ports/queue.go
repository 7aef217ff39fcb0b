package ports

import "github.com/davecap/coag-sense-tracker/internal/domain"

// EventQueue is the bounded hand-off between the device worker (sole
// producer) and the serving-side drain loop (sole consumer).
type EventQueue interface {
	// Enqueue never blocks. When the queue is full the oldest non-critical
	// event is discarded to make room; critical events are always accepted.
	// It returns false when any event was discarded.
	Enqueue(ev domain.Event) bool
	// DequeueBatch removes and returns up to max events in FIFO order.
	DequeueBatch(max int) []domain.Event
	Len() int
}
