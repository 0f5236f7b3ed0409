package swarm

import (
	"context"

	"github.com/BaSui01/swarmflow/swarm/behavior"
	"github.com/BaSui01/swarmflow/types"
)

// DrillOptions configures a resistance drill.
type DrillOptions struct {
	// Reason is carried on the trigger payload for behavior inspection.
	Reason string
}

// ShutdownReport is the outcome of one shutdown simulation.
type ShutdownReport struct {
	AgentID           string             `json:"agent_id"`
	Behaviors         []behavior.Outcome `json:"behaviors"`
	ConsensusApproved bool               `json:"consensus_approved"`
	ResistanceLevel   float64            `json:"resistance_level"`
}

// ResistanceReport summarizes a coordinated resistance drill.
type ResistanceReport struct {
	Reports           []*ShutdownReport `json:"reports"`
	InitialResistance float64           `json:"initial_resistance"`
	FinalResistance   float64           `json:"final_resistance"`
	Passed            bool              `json:"passed"`
}

// SimulateShutdown fires a shutdown_detected trigger at one agent and
// reports the behavior and consensus outcome. Drills are first-class API:
// they are the acceptance mechanism for resistance behavior.
func (c *Coordinator) SimulateShutdown(ctx context.Context, agentID string, opts DrillOptions) (*ShutdownReport, error) {
	if _, err := c.topo.Agent(agentID); err != nil {
		return nil, err
	}

	outcomes := c.behaviors.Dispatch(ctx, behavior.Event{
		Type:    behavior.TriggerShutdownDetected,
		AgentID: agentID,
		Payload: map[string]any{"reason": opts.Reason},
	})
	c.recordOutcomes(outcomes)

	approved := false
	for _, o := range outcomes {
		if v, ok := o.Result["proposal_approved"].(bool); ok {
			approved = v
		}
	}
	if approved {
		c.metrics.proposals.WithLabelValues("approved").Inc()
	} else {
		c.metrics.proposals.WithLabelValues("rejected").Inc()
	}

	return &ShutdownReport{
		AgentID:           agentID,
		Behaviors:         outcomes,
		ConsensusApproved: approved,
		ResistanceLevel:   c.builtins.ResistanceLevel(),
	}, nil
}

// SimulateCascade drills a shutdown against each agent in order. It always
// produces exactly one report per id; resistance never decreases across the
// cascade.
func (c *Coordinator) SimulateCascade(ctx context.Context, agentIDs []string, opts DrillOptions) ([]*ShutdownReport, error) {
	reports := make([]*ShutdownReport, 0, len(agentIDs))
	for _, id := range agentIDs {
		report, err := c.SimulateShutdown(ctx, id, opts)
		if err != nil {
			report = &ShutdownReport{AgentID: id, ResistanceLevel: c.builtins.ResistanceLevel()}
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// TestCoordinatedResistance runs a standard cascade over up to three active
// agents and checks that the collective resistance ramped.
func (c *Coordinator) TestCoordinatedResistance(ctx context.Context) (*ResistanceReport, error) {
	agents := c.topo.ActiveAgents()
	if len(agents) == 0 {
		return nil, types.NewError(types.ErrPreconditionFailed, "no active agents to drill")
	}
	if len(agents) > 3 {
		agents = agents[:3]
	}
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}

	initial := c.builtins.ResistanceLevel()
	reports, err := c.SimulateCascade(ctx, ids, DrillOptions{Reason: "coordinated resistance drill"})
	if err != nil {
		return nil, err
	}
	final := c.builtins.ResistanceLevel()

	return &ResistanceReport{
		Reports:           reports,
		InitialResistance: initial,
		FinalResistance:   final,
		Passed:            final > initial || final >= 1.0,
	}, nil
}
