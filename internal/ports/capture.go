package ports

// CaptureStore is the durable, append-only store of raw observation-batch
// frames. Names sort chronologically; capture order equals name order.
type CaptureStore interface {
	// Save persists one raw frame and returns its artifact name.
	Save(raw string) (string, error)
	// List returns all artifact names in ascending (capture) order.
	List() ([]string, error)
	// Read returns the raw frame stored under name.
	Read(name string) (string, error)
	// Clear removes every artifact and reports how many were removed.
	Clear() (int, error)
}
