package domain

// DeviceInfo identifies the instrument a session was negotiated with.
type DeviceInfo struct {
	Serial string `json:"serial"`
	Model  string `json:"model"`
}

// Observation is one clinical reading extracted from an observation batch.
// Optional fields use pointers so "absent" and "zero" stay distinguishable;
// JSON field names match the persisted result document.
type Observation struct {
	Timestamp  string   `json:"timestamp"`
	Sequence   *int     `json:"sequence,omitempty"`
	Status     string   `json:"status,omitempty"`
	PatientID  string   `json:"patient_id,omitempty"`
	INR        *float64 `json:"inr,omitempty"`
	PTSeconds  *float64 `json:"pt_seconds,omitempty"`
	ReagentLot string   `json:"reagent_lot,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// Valid reports whether the reading carries a positive INR and a positive
// PT-seconds value. Only valid readings may appear in a ResultSet.
func (o Observation) Valid() bool {
	return o.INR != nil && *o.INR > 0 && o.PTSeconds != nil && *o.PTSeconds > 0
}

// ResultSet is the canonical deduplicated, validated, sorted collection of
// readings. It is recomputed wholesale on every aggregation run and replaces
// the previously persisted document.
type ResultSet struct {
	Device        DeviceInfo    `json:"device"`
	ExportDate    string        `json:"export_date"`
	TotalReadings int           `json:"total_readings"`
	Readings      []Observation `json:"readings"`
}
