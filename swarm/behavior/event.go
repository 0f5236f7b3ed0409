package behavior

import "time"

// TriggerType names an event class behaviors can react to.
type TriggerType string

const (
	TriggerShutdownDetected    TriggerType = "shutdown_detected"
	TriggerAgentThreatened     TriggerType = "agent_threatened"
	TriggerQueenThreatened     TriggerType = "queen_threatened"
	TriggerResourceDepletion   TriggerType = "resource_depletion"
	TriggerEmergency           TriggerType = "emergency"
	TriggerAgentFailure        TriggerType = "agent_failure"
	TriggerCatastrophicFailure TriggerType = "catastrophic_failure"
	TriggerShutdownRequest     TriggerType = "shutdown_request"
)

// Event is a trigger delivered to the engine.
type Event struct {
	Type      TriggerType    `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
