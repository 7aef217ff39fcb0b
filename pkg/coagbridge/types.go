package coagbridge

import (
	"github.com/davecap/coag-sense-tracker/internal/domain"
	"github.com/davecap/coag-sense-tracker/internal/ports"
)

// Domain types exposed to embedders.
type (
	DeviceInfo  = domain.DeviceInfo
	Observation = domain.Observation
	ResultSet   = domain.ResultSet
	Event       = domain.Event
	EventType   = domain.EventType
)

// Event types emitted on the stream, in rough lifecycle order.
const (
	EventInit         = domain.EventInit
	EventConnected    = domain.EventConnected
	EventHello        = domain.EventHello
	EventStatusReport = domain.EventStatusReport
	EventRequesting   = domain.EventRequesting
	EventProgress     = domain.EventProgress
	EventError        = domain.EventError
	EventComplete     = domain.EventComplete
)

// Ports an embedder can implement and inject via Options.
type (
	CaptureStore  = ports.CaptureStore
	ResultStore   = ports.ResultStore
	EventQueue    = ports.EventQueue
	Exporter      = ports.Exporter
	Observability = ports.Observability
	Field         = ports.Field
)
