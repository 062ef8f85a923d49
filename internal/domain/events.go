package domain

import "time"

// Event types for WebSocket notifications
const (
	EventRoundUpdated = "round_updated"
	EventReplayState  = "replay_state"
	EventReplayError  = "replay_error"
)

// Event represents a real-time event for WebSocket broadcast
type Event struct {
	Type      string      `json:"event"`
	RoundID   int64       `json:"round_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// RoundUpdatedEvent is sent when new telemetry is stored for a round
type RoundUpdatedEvent struct {
	UUID      string `json:"uuid"`
	Player    string `json:"player,omitempty"`
	Snapshots int    `json:"snapshots"`
	Ended     bool   `json:"ended,omitempty"`
}
