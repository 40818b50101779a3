package events

// Change is one variable whose value differs from the previous cycle.
type Change struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Previous float64 `json:"previous"`
	New      bool    `json:"new,omitempty"`
}

// ChangeBatch is sent after every cycle that changed at least one variable
// the subscriber watches.
type ChangeBatch struct {
	BroadcasterID string   `json:"broadcaster_id"`
	SnapshotID    string   `json:"snapshot_id"`
	Timestamp     int64    `json:"timestamp"`
	Sequence      uint64   `json:"sequence"`
	Changes       []Change `json:"changes"`
}

// InitialState is the full value map sent when a subscriber connects.
// SnapshotID is empty before the first cycle.
type InitialState struct {
	BroadcasterID string             `json:"broadcaster_id"`
	SnapshotID    string             `json:"snapshot_id"`
	Timestamp     int64              `json:"timestamp"`
	Sequence      uint64             `json:"sequence"`
	Values        map[string]float64 `json:"values"`
}
