package poct

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davecap/coag-sense-tracker/internal/domain"
	"github.com/davecap/coag-sense-tracker/internal/ports"
)

// memCaptures is an in-memory CaptureStore for session and server tests.
type memCaptures struct {
	mu       sync.Mutex
	frames   []string
	failSave bool
}

func (m *memCaptures) Save(raw string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return "", errors.New("disk full")
	}
	m.frames = append(m.frames, raw)
	return fmt.Sprintf("OBS_DATA_%06d.xml", len(m.frames)), nil
}

func (m *memCaptures) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.frames))
	for i := range m.frames {
		names[i] = fmt.Sprintf("OBS_DATA_%06d.xml", i+1)
	}
	return names, nil
}

func (m *memCaptures) Read(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var i int
	if _, err := fmt.Sscanf(name, "OBS_DATA_%d.xml", &i); err != nil || i < 1 || i > len(m.frames) {
		return "", errors.New("no such capture")
	}
	return m.frames[i-1], nil
}

func (m *memCaptures) Clear() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.frames)
	m.frames = nil
	return n, nil
}

// memQueue records every event in order and never drops.
type memQueue struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memQueue) Enqueue(ev domain.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return true
}

func (m *memQueue) DequeueBatch(max int) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	if max <= 0 || max > len(m.events) {
		max = len(m.events)
	}
	out := make([]domain.Event, max)
	copy(out, m.events[:max])
	m.events = m.events[max:]
	return out
}

func (m *memQueue) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *memQueue) snapshot() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *memQueue) byType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range m.snapshot() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func (m *memQueue) waitFor(t domain.EventType, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(m.byType(t)) > 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// stubAggregator records Aggregate calls.
type stubAggregator struct {
	mu     sync.Mutex
	calls  int
	device domain.DeviceInfo
	rs     *domain.ResultSet
	err    error
}

func (a *stubAggregator) Aggregate(device domain.DeviceInfo) (*domain.ResultSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.device = device
	if a.err != nil {
		return nil, a.err
	}
	if a.rs != nil {
		return a.rs, nil
	}
	return &domain.ResultSet{Device: device, Readings: []domain.Observation{}}, nil
}

func (a *stubAggregator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// nopObs discards all telemetry.
type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}

func newTestSession(captures ports.CaptureStore, events ports.EventQueue, agg ports.Aggregator) *Session {
	return NewSession(NewEncoder(), captures, events, agg, nopObs{})
}

const helloRaw = `<HEL.R01>
   <HDR><HDR.control_id V="1"/></HDR>
   <DEV>
       <DEV.serial_id V="SN123"/>
       <DEV.model_id V="Coag-Sense PT2"/>
   </DEV>
</HEL.R01>
`

const statusRaw = `<DST.R01>
   <HDR><HDR.control_id V="2"/></HDR>
   <DST><DST.new_observations_qty V="3"/></DST>
</DST.R01>
`

const eotRaw = `<EOT.R01>
   <HDR><HDR.control_id V="9"/></HDR>
</EOT.R01>
`

func observationRaw(seq int, ts string, inr, pt float64) string {
	return fmt.Sprintf(`<OBS.R01>
   <HDR><HDR.control_id V="5"/></HDR>
   <SVC>
       <SVC.observation_dttm V="%s"/>
       <SVC.sequence_nbr V="%d"/>
       <SVC.status_cd V="AUT"/>
       <PT><PT.patient_id V="PT-001"/></PT>
       <OBS>
           <OBS.observation_id V="34714-6"/>
           <OBS.value V="%.1f"/>
       </OBS>
       <OBS>
           <OBS.observation_id V="5902-2"/>
           <OBS.value V="%.1f"/>
       </OBS>
       <RGT><RGT.lot_number V="LOT-77"/></RGT>
   </SVC>
</OBS.R01>
`, ts, seq, inr, pt)
}
