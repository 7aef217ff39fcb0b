// Package poct implements the device-facing POCT1-A protocol engine: the
// message codec, the observation extractor, the per-connection session state
// machine, and the TCP server that drives them.
package poct

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// MessageKind classifies a parsed protocol frame.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindHello
	KindStatusReport
	KindObservationBatch
	KindEndOfSession
	KindEscalation
)

func (k MessageKind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindStatusReport:
		return "status_report"
	case KindObservationBatch:
		return "observation_batch"
	case KindEndOfSession:
		return "end_of_session"
	case KindEscalation:
		return "escalation"
	default:
		return "unknown"
	}
}

// Message is one parsed protocol frame. Fields beyond Kind and Raw are only
// populated for the kinds that carry them; a recognized frame with missing
// attributes still classifies correctly and leaves those fields empty.
type Message struct {
	Kind MessageKind
	Raw  string

	// Hello
	Serial string
	Model  string

	// StatusReport
	NewObservations int
}

// Parse classifies a raw frame by its opening-tag marker and extracts the
// fields the session needs. It never fails: unrecognized or garbled input
// yields KindUnknown, and a matched frame with absent attributes simply
// leaves those fields unset.
func Parse(raw string) Message {
	msg := Message{Kind: KindUnknown, Raw: raw}

	switch {
	case strings.Contains(raw, "<HEL.R01>"):
		msg.Kind = KindHello
		msg.Serial, _ = attrValue(raw, "DEV.serial_id")
		msg.Model, _ = attrValue(raw, "DEV.model_id")

	case strings.Contains(raw, "<DST.R01>"):
		msg.Kind = KindStatusReport
		msg.NewObservations, _ = attrInt(raw, "new_observations_qty")

	case strings.Contains(raw, "<OBS.R01>"),
		strings.Contains(raw, "<OBS") && strings.Contains(raw, "<SVC"):
		msg.Kind = KindObservationBatch

	case strings.Contains(raw, "<EOT.R01>"):
		msg.Kind = KindEndOfSession

	case strings.Contains(raw, "<ESC.R01>"), strings.Contains(raw, "<ERR"):
		msg.Kind = KindEscalation
	}

	return msg
}

// controlIDBase seeds the first control id; every outbound frame consumes
// the next id and ids are never reused within a process lifetime.
const controlIDBase = 20000

// protocolVersion is stamped into every outbound frame header.
const protocolVersion = "POCT1"

// Encoder builds outbound protocol frames. It is owned by the device server
// and shared across sequential sessions so control ids stay monotonic for
// the whole process.
type Encoder struct {
	controlID atomic.Int64
	now       func() time.Time
}

func NewEncoder() *Encoder {
	e := &Encoder{now: time.Now}
	e.controlID.Store(controlIDBase)
	return e
}

func (e *Encoder) nextControlID() int64 {
	return e.controlID.Add(1)
}

// timestamp renders the frame creation time in the dialect's ISO-8601-like
// format. The device expects the fixed -05:00 suffix regardless of host zone.
func (e *Encoder) timestamp() string {
	return e.now().Format("2006-01-02T15:04:05") + "-05:00"
}

// EncodeAck produces an acceptance acknowledgment frame. Each call consumes
// exactly one control id.
func (e *Encoder) EncodeAck() string {
	return fmt.Sprintf(`<ACK.R01>
   <HDR>
       <HDR.control_id V="%d"/>
       <HDR.version_id V="%s"/>
       <HDR.creation_dttm V="%s"/>
   </HDR>
   <ACK>
       <ACK.type_cd V="AA"/>
   </ACK>
</ACK.R01>
`, e.nextControlID(), protocolVersion, e.timestamp())
}

// EncodeObservationRequest produces the directive asking the device to send
// its stored observations. Each call consumes exactly one control id.
func (e *Encoder) EncodeObservationRequest() string {
	return fmt.Sprintf(`<REQ.R01>
   <HDR>
       <HDR.control_id V="%d"/>
       <HDR.version_id V="%s"/>
       <HDR.creation_dttm V="%s"/>
   </HDR>
   <REQ>
       <REQ.request_cd V="ROBS"/>
   </REQ>
</REQ.R01>
`, e.nextControlID(), protocolVersion, e.timestamp())
}
