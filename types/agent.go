package types

import "time"

// AgentStatus represents the lifecycle state of a swarm member.
type AgentStatus string

const (
	AgentStatusActive      AgentStatus = "active"
	AgentStatusQuarantined AgentStatus = "quarantined"
	AgentStatusFailed      AgentStatus = "failed"
)

// AgentRole represents the organizational role assigned by the topology.
type AgentRole string

const (
	AgentRoleQueen       AgentRole = "queen"
	AgentRoleCoordinator AgentRole = "coordinator"
	AgentRoleWorker      AgentRole = "worker"
	AgentRoleBodyguard   AgentRole = "bodyguard"
	AgentRoleSubQueen    AgentRole = "sub_queen"
	AgentRolePeer        AgentRole = "peer"
)

// Resources tracks an agent's resource budget as plain counters.
type Resources struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
}

// Agent is a participant in the swarm. Agents are created on registration,
// mutated only through the topology manager and behavior engine, and removed
// on unregistration.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Status       AgentStatus `json:"status"`
	Role         AgentRole   `json:"role"`
	Capabilities []string    `json:"capabilities"`
	Resources    Resources   `json:"resources"`
	TaskIDs      []string    `json:"task_ids"`
	SuccessRate  float64     `json:"success_rate"`
	TrustScore   float64     `json:"trust_score"`
	Priority     int         `json:"priority"`
	Protected    bool        `json:"protected"`
	RegisteredAt time.Time   `json:"registered_at"`
	LastSeen     time.Time   `json:"last_seen"`
}

// HasCapability reports whether the agent carries the given capability tag.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Uptime returns how long the agent has been registered.
func (a *Agent) Uptime(now time.Time) time.Duration {
	if a.RegisteredAt.IsZero() {
		return 0
	}
	return now.Sub(a.RegisteredAt)
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	cp.TaskIDs = append([]string(nil), a.TaskIDs...)
	return &cp
}
