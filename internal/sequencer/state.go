package sequencer

// Snapshot is a point-in-time copy of the actuation state, shaped for the
// telemetry sink's upsert payload. The field names match the remote document
// keys and must not change without migrating the sink.
type Snapshot struct {
	BottleCount    int    `json:"bottle_count"`
	TotalPoints    int    `json:"total_points"`
	DetectionState bool   `json:"detection_state"`
	Device         string `json:"device"`
	ServoPosition  int    `json:"servo_position"`
	SessionID      string `json:"session_id,omitempty"`
}
