package domain

// EventType tags the events pushed from the device worker to live consumers.
type EventType string

const (
	EventInit         EventType = "init"
	EventConnected    EventType = "connected"
	EventHello        EventType = "hello"
	EventStatusReport EventType = "status_report"
	EventRequesting   EventType = "requesting"
	EventProgress     EventType = "progress"
	EventError        EventType = "error"
	EventComplete     EventType = "complete"
)

// Event is one entry in the ordered stream delivered to live consumers.
// Only the fields relevant to the Type are set; the rest marshal away.
type Event struct {
	Type         EventType   `json:"type"`
	IP           string      `json:"ip,omitempty"`
	Device       *DeviceInfo `json:"device,omitempty"`
	Total        *int        `json:"total,omitempty"`
	Received     *int        `json:"received,omitempty"`
	Observations *int        `json:"observations,omitempty"`
	Message      string      `json:"message,omitempty"`
	Results      *ResultSet  `json:"results,omitempty"`
	ServerIP     string      `json:"server_ip,omitempty"`
	DevicePort   *int        `json:"device_port,omitempty"`
	HasData      *bool       `json:"has_data,omitempty"`
}

// Critical reports whether the event must survive queue backpressure.
// The terminal complete event carries the ResultSet and is never dropped.
func (e Event) Critical() bool { return e.Type == EventComplete }

func NewConnectedEvent(ip string) Event {
	return Event{Type: EventConnected, IP: ip}
}

func NewHelloEvent(device DeviceInfo) Event {
	return Event{Type: EventHello, Device: &device}
}

func NewStatusReportEvent(total int) Event {
	return Event{Type: EventStatusReport, Total: &total}
}

func NewRequestingEvent() Event {
	return Event{Type: EventRequesting}
}

func NewProgressEvent(received, total int) Event {
	return Event{Type: EventProgress, Received: &received, Total: &total}
}

func NewErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

func NewCompleteEvent(observations int, results *ResultSet) Event {
	return Event{Type: EventComplete, Observations: &observations, Results: results}
}

func NewInitEvent(serverIP string, devicePort int, hasData bool) Event {
	return Event{Type: EventInit, ServerIP: serverIP, DevicePort: &devicePort, HasData: &hasData}
}
