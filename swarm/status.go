package swarm

import (
	"time"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/swarm/comms"
	"github.com/BaSui01/swarmflow/swarm/consensus"
	"github.com/BaSui01/swarmflow/swarm/memory"
	"github.com/BaSui01/swarmflow/swarm/topology"
	"github.com/BaSui01/swarmflow/types"
)

// AgentCounts breaks the roster down by status.
type AgentCounts struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Quarantined int `json:"quarantined"`
	Failed      int `json:"failed"`
}

// Status is the aggregate health view of the swarm.
type Status struct {
	Name       string               `json:"name"`
	NodeID     string               `json:"node_id"`
	Running    bool                 `json:"running"`
	Topology   config.TopologyType  `json:"topology"`
	State      topology.SwarmState  `json:"state"`
	Agents     AgentCounts          `json:"agents"`
	QueenID    string               `json:"queen_id,omitempty"`
	Resistance float64              `json:"resistance"`
	Emergency  bool                 `json:"emergency"`
	Uptime     time.Duration        `json:"uptime"`
}

// MetricsReport aggregates subsystem statistics and derived scores.
type MetricsReport struct {
	Proposals     consensus.Stats `json:"proposals"`
	ApprovalRate  float64         `json:"approval_rate"`
	Memory        memory.Stats    `json:"memory"`
	Comms         comms.HubStats  `json:"comms"`
	BehaviorExecs map[string]int  `json:"behavior_execs"`
	BehaviorRate  float64         `json:"behavior_success_rate"`
	SwarmHealth   float64         `json:"swarm_health"`
	TasksAssigned int             `json:"tasks_assigned"`
}

// Status returns the aggregate swarm status.
func (c *Coordinator) Status() *Status {
	counts := AgentCounts{}
	for _, a := range c.topo.Agents() {
		counts.Total++
		switch a.Status {
		case types.AgentStatusActive:
			counts.Active++
		case types.AgentStatusQuarantined:
			counts.Quarantined++
		case types.AgentStatusFailed:
			counts.Failed++
		}
	}

	c.mu.Lock()
	running := c.running
	var uptime time.Duration
	if running {
		uptime = time.Since(c.startedAt)
	}
	c.mu.Unlock()

	status := &Status{
		Name:       c.cfg.Swarm.Name,
		NodeID:     c.nodeID,
		Running:    running,
		Topology:   c.topo.Type(),
		State:      c.topo.State(),
		Agents:     counts,
		Resistance: c.builtins.ResistanceLevel(),
		Emergency:  c.builtins.EmergencyActive(),
		Uptime:     uptime,
	}
	if queen, ok := c.topo.Queen(); ok {
		status.QueenID = queen.ID
	}
	return status
}

// Metrics returns aggregated statistics with derived scores and refreshes
// the exported gauges.
func (c *Coordinator) Metrics() *MetricsReport {
	proposals := c.cons.Statistics()
	approvalRate := 0.0
	if proposals.Proposed > 0 {
		approvalRate = float64(proposals.Approved) / float64(proposals.Proposed)
	}

	history := c.behaviors.History()
	behaviorRate := 0.0
	if len(history) > 0 {
		succeeded := 0
		for _, o := range history {
			if o.Succeeded() {
				succeeded++
			}
		}
		behaviorRate = float64(succeeded) / float64(len(history))
	}

	c.mu.Lock()
	tasksAssigned := len(c.tasks)
	c.mu.Unlock()

	health := c.swarmHealth()
	c.metrics.health.Set(health)
	c.metrics.agents.Set(float64(c.topo.Count()))

	return &MetricsReport{
		Proposals:     proposals,
		ApprovalRate:  approvalRate,
		Memory:        c.mem.Statistics(),
		Comms:         c.hub.Stats(),
		BehaviorExecs: c.behaviors.ExecCounts(),
		BehaviorRate:  behaviorRate,
		SwarmHealth:   health,
		TasksAssigned: tasksAssigned,
	}
}

// swarmHealth blends roster fullness, average success rate, and inverse
// failure rate into one scalar in [0,1].
func (c *Coordinator) swarmHealth() float64 {
	agents := c.topo.Agents()
	fullness := float64(len(agents)) / float64(c.cfg.Topology.MaxAgents)
	if fullness > 1 {
		fullness = 1
	}

	avgSuccess := 0.0
	if len(agents) > 0 {
		for _, a := range agents {
			avgSuccess += a.SuccessRate
		}
		avgSuccess /= float64(len(agents))
	}

	stats := c.topo.Statistics()
	failureRate := 0.0
	if stats["registered"] > 0 {
		failureRate = float64(stats["failures"]) / float64(stats["registered"])
	}
	if failureRate > 1 {
		failureRate = 1
	}

	return 0.3*fullness + 0.4*avgSuccess + 0.3*(1-failureRate)
}
