package poct

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestParseClassification(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want MessageKind
	}{
		{"hello", helloRaw, KindHello},
		{"status", statusRaw, KindStatusReport},
		{"observations", observationRaw(1, "2026-08-20T09:15:00", 2.4, 28.1), KindObservationBatch},
		{"observations without topic marker", `<OBS foo/><SVC><SVC.observation_dttm V="x"/></SVC>`, KindObservationBatch},
		{"end of topic", eotRaw, KindEndOfSession},
		{"escalation", `<ESC.R01><ESC.note V="device fault"/></ESC.R01>`, KindEscalation},
		{"error element", `<ERR V="bad"/>`, KindEscalation},
		{"garbage", "not a frame at all", KindUnknown},
		{"empty", "", KindUnknown},
		{"truncated binary", "\x00\x01\x02<", KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := Parse(tc.raw)
			if msg.Kind != tc.want {
				t.Fatalf("expected kind %s, got %s", tc.want, msg.Kind)
			}
			if msg.Raw != tc.raw {
				t.Fatalf("raw frame must be preserved")
			}
		})
	}
}

func TestParseHelloFields(t *testing.T) {
	msg := Parse(helloRaw)
	if msg.Serial != "SN123" {
		t.Fatalf("expected serial SN123, got %q", msg.Serial)
	}
	if msg.Model != "Coag-Sense PT2" {
		t.Fatalf("expected model Coag-Sense PT2, got %q", msg.Model)
	}

	bare := Parse("<HEL.R01></HEL.R01>")
	if bare.Kind != KindHello || bare.Serial != "" || bare.Model != "" {
		t.Fatalf("hello without identity must classify with empty fields, got %+v", bare)
	}
}

func TestParseStatusFields(t *testing.T) {
	msg := Parse(statusRaw)
	if msg.NewObservations != 3 {
		t.Fatalf("expected 3 pending observations, got %d", msg.NewObservations)
	}

	bad := Parse(`<DST.R01><DST.new_observations_qty V="many"/></DST.R01>`)
	if bad.Kind != KindStatusReport || bad.NewObservations != 0 {
		t.Fatalf("non-numeric quantity must default to 0, got %+v", bad)
	}
}

func TestEncoderControlIDsStrictlyIncrease(t *testing.T) {
	enc := NewEncoder()

	var last int64
	for i := 0; i < 5; i++ {
		var frame string
		if i%2 == 0 {
			frame = enc.EncodeAck()
		} else {
			frame = enc.EncodeObservationRequest()
		}
		var id int64
		m := attrPattern("HDR.control_id").FindStringSubmatch(frame)
		if m == nil {
			t.Fatalf("frame missing control id: %s", frame)
		}
		if _, err := fmt.Sscanf(m[1], "%d", &id); err != nil {
			t.Fatalf("control id not numeric: %v", err)
		}
		if i == 0 && id != controlIDBase+1 {
			t.Fatalf("first control id should be %d, got %d", controlIDBase+1, id)
		}
		if id <= last {
			t.Fatalf("control ids must strictly increase: %d after %d", id, last)
		}
		last = id
	}
}

func TestEncodeAckContent(t *testing.T) {
	enc := NewEncoder()
	enc.now = func() time.Time {
		return time.Date(2026, 8, 20, 9, 15, 0, 0, time.UTC)
	}

	ack := enc.EncodeAck()
	for _, want := range []string{
		"<ACK.R01>",
		`<ACK.type_cd V="AA"/>`,
		`<HDR.version_id V="POCT1"/>`,
		`<HDR.creation_dttm V="2026-08-20T09:15:00-05:00"/>`,
	} {
		if !strings.Contains(ack, want) {
			t.Fatalf("ack missing %q:\n%s", want, ack)
		}
	}
}

func TestEncodeObservationRequestContent(t *testing.T) {
	enc := NewEncoder()

	req := enc.EncodeObservationRequest()
	if !strings.Contains(req, "<REQ.R01>") {
		t.Fatalf("missing topic marker:\n%s", req)
	}
	if !strings.Contains(req, `<REQ.request_cd V="ROBS"/>`) {
		t.Fatalf("missing ROBS directive:\n%s", req)
	}
}
