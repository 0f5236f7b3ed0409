package topology

import "time"

// EventType names a roster or shape change emitted by the manager.
type EventType string

const (
	EventAgentRegistered  EventType = "agent_registered"
	EventAgentRemoved     EventType = "agent_removed"
	EventAgentQuarantined EventType = "agent_quarantined"
	EventQueenElected     EventType = "queen_elected"
	EventTopologySwitched EventType = "topology_switched"
	EventEmergencyEntered EventType = "emergency_entered"
	EventCheckpointTaken  EventType = "checkpoint_taken"
)

// Event is a membership or shape change notification.
type Event struct {
	Type      EventType      `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Listener receives manager events. Listeners run synchronously after the
// manager releases its lock, so they may call back into the manager.
type Listener func(Event)
