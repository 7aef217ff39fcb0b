package poct

import (
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/davecap/coag-sense-tracker/internal/domain"
	"github.com/davecap/coag-sense-tracker/internal/ports"
)

// State is the session's position in the protocol exchange.
type State int

const (
	StateAwaitingHello State = iota
	StateAwaitingFirstStatus
	StateAwaitingObservationsOrEnd
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateAwaitingFirstStatus:
		return "awaiting_first_status"
	case StateAwaitingObservationsOrEnd:
		return "awaiting_observations_or_end"
	default:
		return "closed"
	}
}

// escalationLimit bounds how much raw device text an error event carries.
// Truncation lands on a rune boundary so the event stays valid UTF-8.
const escalationLimit = 200

// Defaults applied when a hello frame omits device identity attributes.
const (
	defaultSerial = "Unknown"
	defaultModel  = "Coag-Sense PT/INR"
)

// Session drives one device connection through
// AwaitingHello → AwaitingFirstStatus → AwaitingObservationsOrEnd → Closed.
// It is owned exclusively by the device worker; nothing else reads or
// mutates it. All per-session state is discarded when the session closes.
type Session struct {
	id       string
	enc      *Encoder
	captures ports.CaptureStore
	events   ports.EventQueue
	agg      ports.Aggregator
	obs      ports.Observability

	state       State
	device      domain.DeviceInfo
	received    int
	total       int
	totalSet    bool
	requestSent bool
	aggregated  bool
}

func NewSession(enc *Encoder, captures ports.CaptureStore, events ports.EventQueue, agg ports.Aggregator, obs ports.Observability) *Session {
	return &Session{
		id:       uuid.NewString(),
		enc:      enc,
		captures: captures,
		events:   events,
		agg:      agg,
		obs:      obs,
		state:    StateAwaitingHello,
	}
}

// ID returns the session's correlation id used in logs.
func (s *Session) ID() string { return s.id }

// emit enqueues ev for the serving side and records a drop when the bounded
// queue had to discard to make room.
func (s *Session) emit(ev domain.Event) {
	if !s.events.Enqueue(ev) {
		s.obs.IncCounter("coag_events_dropped_total", 1)
	}
}

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// Handle applies one parsed frame to the state machine and returns the
// encoded replies to write back, in order. A non-nil error means the session
// hit an unrecoverable failure (durable store); the caller must stop reading
// and call Close, which still runs aggregation over whatever was captured.
func (s *Session) Handle(msg Message) ([]string, error) {
	// Escalations carry no state: surface and stay put, whatever the state.
	if msg.Kind == KindEscalation {
		s.handleEscalation(msg)
		return nil, nil
	}
	if msg.Kind == KindUnknown || s.state == StateClosed {
		return nil, nil
	}

	switch s.state {
	case StateAwaitingHello:
		if msg.Kind == KindHello {
			return s.handleHello(msg), nil
		}
	case StateAwaitingFirstStatus:
		if msg.Kind == KindStatusReport {
			return s.handleStatusReport(msg), nil
		}
	case StateAwaitingObservationsOrEnd:
		switch msg.Kind {
		case KindStatusReport:
			return s.handleStatusReport(msg), nil
		case KindObservationBatch:
			return s.handleObservationBatch(msg)
		case KindEndOfSession:
			return s.handleEndOfSession(), nil
		}
	}

	// Frame kind not expected in this state: no reply, no transition.
	s.obs.LogInfo("poct_frame_ignored",
		ports.Field{Key: "session", Value: s.id},
		ports.Field{Key: "kind", Value: msg.Kind.String()},
		ports.Field{Key: "state", Value: s.state.String()})
	return nil, nil
}

func (s *Session) handleHello(msg Message) []string {
	s.device = domain.DeviceInfo{Serial: msg.Serial, Model: msg.Model}
	if s.device.Serial == "" {
		s.device.Serial = defaultSerial
	}
	if s.device.Model == "" {
		s.device.Model = defaultModel
	}

	s.obs.LogInfo("poct_device_hello",
		ports.Field{Key: "session", Value: s.id},
		ports.Field{Key: "serial", Value: s.device.Serial},
		ports.Field{Key: "model", Value: s.device.Model})
	s.emit(domain.NewHelloEvent(s.device))

	s.state = StateAwaitingFirstStatus
	return []string{s.enc.EncodeAck()}
}

func (s *Session) handleStatusReport(msg Message) []string {
	if !s.totalSet {
		s.total = msg.NewObservations
		s.totalSet = true
	}
	s.emit(domain.NewStatusReportEvent(s.total))

	replies := []string{s.enc.EncodeAck()}
	if !s.requestSent {
		s.emit(domain.NewRequestingEvent())
		replies = append(replies, s.enc.EncodeObservationRequest())
		s.requestSent = true
	}

	s.state = StateAwaitingObservationsOrEnd
	return replies
}

func (s *Session) handleObservationBatch(msg Message) ([]string, error) {
	name, err := s.captures.Save(msg.Raw)
	if err != nil {
		// Losing a capture means losing readings: fail the session loudly.
		s.obs.LogCritical("poct_capture_write_failed", err,
			ports.Field{Key: "session", Value: s.id})
		s.emit(domain.NewErrorEvent("failed to persist observation capture: " + err.Error()))
		return nil, err
	}

	extracted := ExtractObservations(msg.Raw)
	s.received += len(extracted)

	s.obs.IncCounter("coag_observations_extracted_total", float64(len(extracted)))
	s.obs.LogInfo("poct_observation_batch",
		ports.Field{Key: "session", Value: s.id},
		ports.Field{Key: "capture", Value: name},
		ports.Field{Key: "records", Value: len(extracted)})
	s.emit(domain.NewProgressEvent(s.received, s.total))

	return []string{s.enc.EncodeAck()}, nil
}

// handleEndOfSession acks and marks the session closed. Aggregation waits
// for Close so the device gets its ack before the recompute starts; the
// server's deferred Close runs once the reply is flushed.
func (s *Session) handleEndOfSession() []string {
	s.state = StateClosed
	return []string{s.enc.EncodeAck()}
}

func (s *Session) handleEscalation(msg Message) {
	text := msg.Raw
	if len(text) > escalationLimit {
		cut := escalationLimit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	s.obs.LogError("poct_device_escalation", nil,
		ports.Field{Key: "session", Value: s.id},
		ports.Field{Key: "message", Value: text})
	s.emit(domain.NewErrorEvent(text))
}

// Close ends the session and runs the aggregation. It is idempotent: the
// aggregation run and the terminal complete event happen exactly once,
// whether the session ended via EndOfSession, peer close, or a transport
// failure.
func (s *Session) Close() {
	s.closeAndAggregate()
}

func (s *Session) closeAndAggregate() {
	if s.aggregated {
		return
	}
	s.aggregated = true
	s.state = StateClosed

	var results *domain.ResultSet
	rs, err := s.agg.Aggregate(s.device)
	if err != nil {
		s.obs.LogError("poct_aggregate_failed", err,
			ports.Field{Key: "session", Value: s.id})
		s.emit(domain.NewErrorEvent("aggregation failed: " + err.Error()))
	} else {
		results = rs
	}

	s.obs.LogInfo("poct_session_complete",
		ports.Field{Key: "session", Value: s.id},
		ports.Field{Key: "observations", Value: s.received})
	s.emit(domain.NewCompleteEvent(s.received, results))
}
