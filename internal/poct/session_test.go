package poct

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/davecap/coag-sense-tracker/internal/domain"
)

func TestSessionHappyPath(t *testing.T) {
	captures := &memCaptures{}
	events := &memQueue{}
	agg := &stubAggregator{}
	s := newTestSession(captures, events, agg)

	// Hello: one ack, device identity recorded.
	replies, err := s.Handle(Parse(helloRaw))
	if err != nil {
		t.Fatalf("hello: %v", err)
	}
	if len(replies) != 1 || !strings.Contains(replies[0], "<ACK.R01>") {
		t.Fatalf("expected single ack, got %v", replies)
	}
	if want := fmt.Sprintf(`<HDR.control_id V="%d"/>`, controlIDBase+1); !strings.Contains(replies[0], want) {
		t.Fatalf("hello ack must carry the first control id:\n%s", replies[0])
	}
	if s.State() != StateAwaitingFirstStatus {
		t.Fatalf("expected awaiting first status, got %s", s.State())
	}

	// First status report: ack followed by the observation request.
	replies, err = s.Handle(Parse(statusRaw))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected ack+request, got %d replies", len(replies))
	}
	if !strings.Contains(replies[0], "<ACK.R01>") || !strings.Contains(replies[1], `V="ROBS"`) {
		t.Fatalf("unexpected replies: %v", replies)
	}

	// Two observation batches, each persisted and acked.
	for i, raw := range []string{
		observationRaw(1, "2026-08-20T09:15:00", 2.4, 28.1),
		observationRaw(2, "2026-08-21T10:30:00", 2.7, 30.5),
	} {
		replies, err = s.Handle(Parse(raw))
		if err != nil {
			t.Fatalf("batch %d: %v", i+1, err)
		}
		if len(replies) != 1 || !strings.Contains(replies[0], "<ACK.R01>") {
			t.Fatalf("batch %d: expected single ack", i+1)
		}
	}
	if len(captures.frames) != 2 {
		t.Fatalf("expected 2 captures, got %d", len(captures.frames))
	}

	// End of topic: ack only; aggregation and the terminal complete event
	// wait until the caller closes the session after flushing the reply.
	replies, err = s.Handle(Parse(eotRaw))
	if err != nil {
		t.Fatalf("eot: %v", err)
	}
	if len(replies) != 1 || !strings.Contains(replies[0], "<ACK.R01>") {
		t.Fatalf("expected eot ack, got %v", replies)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", s.State())
	}
	if agg.callCount() != 0 {
		t.Fatalf("aggregation must wait for Close, ran %d times", agg.callCount())
	}

	s.Close()
	if agg.callCount() != 1 {
		t.Fatalf("expected one aggregation run, got %d", agg.callCount())
	}
	if agg.device.Serial != "SN123" || agg.device.Model != "Coag-Sense PT2" {
		t.Fatalf("aggregation got wrong device identity: %+v", agg.device)
	}

	complete := events.byType(domain.EventComplete)
	if len(complete) != 1 {
		t.Fatalf("expected exactly one complete event, got %d", len(complete))
	}
	if complete[0].Observations == nil || *complete[0].Observations != 2 {
		t.Fatalf("complete event should carry 2 received observations: %+v", complete[0])
	}
	if complete[0].Results == nil {
		t.Fatalf("complete event should carry the result set")
	}
}

func TestSessionHelloDefaultsIdentity(t *testing.T) {
	events := &memQueue{}
	s := newTestSession(&memCaptures{}, events, &stubAggregator{})

	if _, err := s.Handle(Parse("<HEL.R01></HEL.R01>")); err != nil {
		t.Fatalf("hello: %v", err)
	}

	hellos := events.byType(domain.EventHello)
	if len(hellos) != 1 || hellos[0].Device == nil {
		t.Fatalf("expected one hello event with device, got %+v", hellos)
	}
	if hellos[0].Device.Serial != "Unknown" || hellos[0].Device.Model != "Coag-Sense PT/INR" {
		t.Fatalf("expected identity defaults, got %+v", hellos[0].Device)
	}
}

func TestSessionStatusReportTotalSetOnceRequestSentOnce(t *testing.T) {
	events := &memQueue{}
	s := newTestSession(&memCaptures{}, events, &stubAggregator{})

	if _, err := s.Handle(Parse(helloRaw)); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if _, err := s.Handle(Parse(statusRaw)); err != nil {
		t.Fatalf("first status: %v", err)
	}

	// A later status report with a different quantity must not change the
	// total and must not trigger a second request.
	later := `<DST.R01><DST.new_observations_qty V="99"/></DST.R01>`
	replies, err := s.Handle(Parse(later))
	if err != nil {
		t.Fatalf("second status: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("repeat status should only be acked, got %d replies", len(replies))
	}

	reports := events.byType(domain.EventStatusReport)
	if len(reports) != 2 {
		t.Fatalf("expected 2 status report events, got %d", len(reports))
	}
	for _, ev := range reports {
		if ev.Total == nil || *ev.Total != 3 {
			t.Fatalf("total must stay at the first reported value: %+v", ev)
		}
	}
	if got := len(events.byType(domain.EventRequesting)); got != 1 {
		t.Fatalf("expected exactly one requesting event, got %d", got)
	}
}

func TestSessionIgnoresOutOfOrderFrames(t *testing.T) {
	events := &memQueue{}
	agg := &stubAggregator{}
	s := newTestSession(&memCaptures{}, events, agg)

	// Observations before hello: no reply, no transition, no aggregation.
	replies, err := s.Handle(Parse(observationRaw(1, "2026-08-20T09:15:00", 2.4, 28.1)))
	if err != nil || len(replies) != 0 {
		t.Fatalf("out-of-order frame must be ignored, got %v %v", replies, err)
	}
	if s.State() != StateAwaitingHello {
		t.Fatalf("state must not change, got %s", s.State())
	}

	// EOT before hello likewise.
	replies, err = s.Handle(Parse(eotRaw))
	if err != nil || len(replies) != 0 {
		t.Fatalf("premature eot must be ignored, got %v %v", replies, err)
	}
	if agg.callCount() != 0 {
		t.Fatalf("aggregation must not run before the session opened")
	}
}

func TestSessionEscalationAnyState(t *testing.T) {
	events := &memQueue{}
	s := newTestSession(&memCaptures{}, events, &stubAggregator{})

	long := "<ERR " + strings.Repeat("x", 500)
	replies, err := s.Handle(Parse(long))
	if err != nil || len(replies) != 0 {
		t.Fatalf("escalation yields no reply, got %v %v", replies, err)
	}
	if s.State() != StateAwaitingHello {
		t.Fatalf("escalation must not advance the state machine")
	}

	errs := events.byType(domain.EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(errs))
	}
	if len(errs[0].Message) != escalationLimit {
		t.Fatalf("escalation text must be truncated to %d, got %d", escalationLimit, len(errs[0].Message))
	}
}

func TestSessionEscalationTruncatesOnRuneBoundary(t *testing.T) {
	events := &memQueue{}
	s := newTestSession(&memCaptures{}, events, &stubAggregator{})

	// Two-byte runes guarantee the byte limit falls mid-rune.
	raw := "<ERR " + strings.Repeat("é", escalationLimit)
	if _, err := s.Handle(Parse(raw)); err != nil {
		t.Fatalf("escalation: %v", err)
	}

	errs := events.byType(domain.EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(errs))
	}
	msg := errs[0].Message
	if len(msg) > escalationLimit {
		t.Fatalf("truncated text exceeds limit: %d bytes", len(msg))
	}
	if !utf8.ValidString(msg) {
		t.Fatalf("truncated text must stay valid UTF-8: %q", msg)
	}
}

func TestSessionEndOfSessionAcksBeforeAggregation(t *testing.T) {
	events := &memQueue{}
	agg := &stubAggregator{}
	s := newTestSession(&memCaptures{}, events, agg)

	if _, err := s.Handle(Parse(helloRaw)); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if _, err := s.Handle(Parse(statusRaw)); err != nil {
		t.Fatalf("status: %v", err)
	}

	replies, err := s.Handle(Parse(eotRaw))
	if err != nil {
		t.Fatalf("eot: %v", err)
	}
	if len(replies) != 1 || !strings.Contains(replies[0], "<ACK.R01>") {
		t.Fatalf("expected eot ack, got %v", replies)
	}

	// Handle must return the ack without running the recompute, so the
	// device is not kept waiting on aggregation and export.
	if agg.callCount() != 0 {
		t.Fatalf("aggregation ran before the ack could be written")
	}
	if got := len(events.byType(domain.EventComplete)); got != 0 {
		t.Fatalf("complete event emitted before the ack could be written")
	}

	s.Close()
	if agg.callCount() != 1 {
		t.Fatalf("close must aggregate exactly once, got %d", agg.callCount())
	}
	if got := len(events.byType(domain.EventComplete)); got != 1 {
		t.Fatalf("expected exactly one complete event, got %d", got)
	}
}

func TestSessionCaptureFailureIsFatal(t *testing.T) {
	captures := &memCaptures{failSave: true}
	events := &memQueue{}
	agg := &stubAggregator{}
	s := newTestSession(captures, events, agg)

	if _, err := s.Handle(Parse(helloRaw)); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if _, err := s.Handle(Parse(statusRaw)); err != nil {
		t.Fatalf("status: %v", err)
	}

	_, err := s.Handle(Parse(observationRaw(1, "2026-08-20T09:15:00", 2.4, 28.1)))
	if err == nil {
		t.Fatalf("capture write failure must fail the session")
	}
	if len(events.byType(domain.EventError)) != 1 {
		t.Fatalf("expected an error event")
	}

	// The caller closes the session; aggregation still runs over what exists.
	s.Close()
	if agg.callCount() != 1 {
		t.Fatalf("close after failure must aggregate once, got %d", agg.callCount())
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	events := &memQueue{}
	agg := &stubAggregator{}
	s := newTestSession(&memCaptures{}, events, agg)

	if _, err := s.Handle(Parse(helloRaw)); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if _, err := s.Handle(Parse(statusRaw)); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := s.Handle(Parse(eotRaw)); err != nil {
		t.Fatalf("eot: %v", err)
	}

	// Peer close after EOT triggers the deferred Close; nothing reruns.
	s.Close()
	s.Close()

	if agg.callCount() != 1 {
		t.Fatalf("aggregation must run exactly once, got %d", agg.callCount())
	}
	if got := len(events.byType(domain.EventComplete)); got != 1 {
		t.Fatalf("expected exactly one complete event, got %d", got)
	}
}

func TestSessionAggregateFailureStillCompletes(t *testing.T) {
	events := &memQueue{}
	agg := &stubAggregator{err: errFailedAggregate}
	s := newTestSession(&memCaptures{}, events, agg)

	if _, err := s.Handle(Parse(helloRaw)); err != nil {
		t.Fatalf("hello: %v", err)
	}
	s.Close()

	complete := events.byType(domain.EventComplete)
	if len(complete) != 1 {
		t.Fatalf("expected one complete event, got %d", len(complete))
	}
	if complete[0].Results != nil {
		t.Fatalf("failed aggregation must yield a complete event without results")
	}
	if len(events.byType(domain.EventError)) != 1 {
		t.Fatalf("expected an error event for the failed aggregation")
	}
}

var errFailedAggregate = errors.New("aggregate failed")
