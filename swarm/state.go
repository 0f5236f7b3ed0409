package swarm

import (
	"time"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/swarm/behavior"
	"github.com/BaSui01/swarmflow/swarm/consensus"
	"github.com/BaSui01/swarmflow/swarm/memory"
	"github.com/BaSui01/swarmflow/types"
)

// State is a full swarm snapshot for persistence or migration.
type State struct {
	Config     *config.Config        `json:"config"`
	Status     *Status               `json:"status"`
	Metrics    *MetricsReport        `json:"metrics"`
	Memory     *memory.StoreState    `json:"memory"`
	History    []behavior.Outcome    `json:"history"`
	Decisions  []*consensus.Decision `json:"decisions"`
	Agents     []*types.Agent        `json:"agents"`
	ExportedAt time.Time             `json:"exported_at"`
}

// ExportState captures configuration, status, metrics, CRDT state, behavior
// history, and all consensus decisions.
func (c *Coordinator) ExportState() (*State, error) {
	memState, err := c.mem.State(time.Time{})
	if err != nil {
		return nil, err
	}
	return &State{
		Config:     c.cfg,
		Status:     c.Status(),
		Metrics:    c.Metrics(),
		Memory:     memState,
		History:    c.behaviors.History(),
		Decisions:  c.cons.Decisions(),
		Agents:     c.topo.Agents(),
		ExportedAt: time.Now(),
	}, nil
}

// ImportState merges the snapshot's CRDT state and re-registers any agents
// from its configuration entries that are not already in the roster.
func (c *Coordinator) ImportState(state *State) error {
	if state == nil {
		return types.NewError(types.ErrPreconditionFailed, "nil state")
	}
	if state.Memory != nil {
		if err := c.mem.MergeState(state.Memory); err != nil {
			return err
		}
	}
	for _, a := range state.Agents {
		if _, err := c.topo.Agent(a.ID); err == nil {
			continue
		}
		clone := a.Clone()
		clone.Status = types.AgentStatusActive
		clone.TaskIDs = nil
		if _, err := c.topo.Register(clone); err != nil {
			return err
		}
		c.cons.AddParticipant(clone.ID)
		c.hub.AddPeer(clone.ID)
	}
	c.metrics.agents.Set(float64(c.topo.Count()))
	return nil
}
