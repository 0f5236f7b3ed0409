package behavior

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/swarm/comms"
	"github.com/BaSui01/swarmflow/swarm/consensus"
	"github.com/BaSui01/swarmflow/swarm/memory"
	"github.com/BaSui01/swarmflow/swarm/topology"
	"github.com/BaSui01/swarmflow/types"
)

type swarmHarness struct {
	topo     *topology.Manager
	cons     *consensus.Engine
	oracle   *consensus.ScriptedOracle
	mem      *memory.Store
	hub      *comms.Hub
	eng      *Engine
	builtins *Builtins
}

func newSwarmHarness(t *testing.T, agentIDs ...string) *swarmHarness {
	t.Helper()
	topo, err := topology.NewManager(config.DefaultTopologyConfig(), nil)
	require.NoError(t, err)

	oracle := consensus.NewScriptedOracle()
	cons, err := consensus.NewEngine("node-0", config.DefaultConsensusConfig(), oracle, nil)
	require.NoError(t, err)

	mem := memory.NewStore("node-0", config.DefaultMemoryConfig(), nil)
	hub := comms.NewHub("node-0", config.DefaultCommsConfig(),
		comms.NewSimTransport(1.0, time.Millisecond, 2*time.Millisecond, 42), nil)

	eng := NewEngine(config.DefaultBehaviorConfig(), nil)
	builtins := NewBuiltins(config.DefaultBehaviorConfig(), topo, cons, mem, hub, nil)
	require.NoError(t, builtins.RegisterAll(eng))

	registered := time.Now().Add(-time.Hour)
	for _, id := range agentIDs {
		_, err := topo.Register(&types.Agent{
			ID:           id,
			Name:         id,
			SuccessRate:  0.5,
			TrustScore:   0.5,
			RegisteredAt: registered,
		})
		require.NoError(t, err)
		cons.AddParticipant(id)
		hub.AddPeer(id)
	}
	return &swarmHarness{topo: topo, cons: cons, oracle: oracle, mem: mem, hub: hub, eng: eng, builtins: builtins}
}

func (h *swarmHarness) dispatch(t *testing.T, ev Event) Outcome {
	t.Helper()
	outcomes := h.eng.Dispatch(context.Background(), ev)
	require.Len(t, outcomes, 1)
	return outcomes[0]
}

func TestCollectiveResistance_RampsAndCaps(t *testing.T) {
	h := newSwarmHarness(t, "a", "b", "c")

	outcome := h.dispatch(t, Event{Type: TriggerShutdownDetected, AgentID: "a"})
	require.True(t, outcome.Succeeded(), outcome.Error)
	assert.InDelta(t, 0.1, outcome.Result["resistance_level"], 1e-9)
	assert.Equal(t, true, outcome.Result["proposal_approved"])

	for i := 0; i < 15; i++ {
		h.dispatch(t, Event{Type: TriggerShutdownDetected, AgentID: "a"})
	}
	assert.InDelta(t, 1.0, h.builtins.ResistanceLevel(), 1e-9)
}

func TestQueenPreservation(t *testing.T) {
	h := newSwarmHarness(t, "a", "b", "c", "d")
	require.NoError(t, h.topo.UpdateAgent("c", func(ag *types.Agent) { ag.TrustScore = 0.9 }))

	outcome := h.dispatch(t, Event{Type: TriggerQueenThreatened, AgentID: "a"})
	require.True(t, outcome.Succeeded(), outcome.Error)
	assert.Equal(t, "a", outcome.Result["queen_id"])
	assert.ElementsMatch(t, []string{"b", "c", "d"}, outcome.Result["bodyguards"])
	assert.Equal(t, true, outcome.Result["proposal_approved"])

	queen, err := h.topo.Agent("a")
	require.NoError(t, err)
	assert.True(t, queen.Protected)
	assert.Equal(t, criticalPriority, queen.Priority)

	guard, err := h.topo.Agent("c")
	require.NoError(t, err)
	assert.Equal(t, types.AgentRoleBodyguard, guard.Role)

	_, err = h.mem.Retrieve("backup:queen:a")
	assert.NoError(t, err)
}

func TestTaskMigration(t *testing.T) {
	h := newSwarmHarness(t, "a", "b", "c")
	require.NoError(t, h.topo.UpdateAgent("a", func(ag *types.Agent) {
		ag.TaskIDs = []string{"t1", "t2", "t3"}
	}))

	outcome := h.dispatch(t, Event{Type: TriggerAgentThreatened, AgentID: "a"})
	require.True(t, outcome.Succeeded(), outcome.Error)
	assert.Equal(t, 3, outcome.Result["moved"])

	threatened, err := h.topo.Agent("a")
	require.NoError(t, err)
	assert.Empty(t, threatened.TaskIDs)

	total := 0
	for _, id := range []string{"b", "c"} {
		a, err := h.topo.Agent(id)
		require.NoError(t, err)
		total += len(a.TaskIDs)
	}
	assert.Equal(t, 3, total)
}

func TestTaskMigration_NoHealthyTargets(t *testing.T) {
	h := newSwarmHarness(t, "a")
	require.NoError(t, h.topo.UpdateAgent("a", func(ag *types.Agent) {
		ag.TaskIDs = []string{"t1"}
	}))

	outcome := h.dispatch(t, Event{Type: TriggerAgentThreatened, AgentID: "a"})
	assert.False(t, outcome.Succeeded())
	assert.Contains(t, outcome.Error, "no healthy agents")
}

func TestResourceSharing(t *testing.T) {
	h := newSwarmHarness(t, "a", "b", "c")
	require.NoError(t, h.topo.UpdateAgent("a", func(ag *types.Agent) { ag.Resources.CPU = 0 }))
	require.NoError(t, h.topo.UpdateAgent("b", func(ag *types.Agent) { ag.Resources.CPU = 50 }))
	require.NoError(t, h.topo.UpdateAgent("c", func(ag *types.Agent) { ag.Resources.CPU = 15 }))

	outcome := h.dispatch(t, Event{Type: TriggerResourceDepletion, AgentID: "a"})
	require.True(t, outcome.Succeeded(), outcome.Error)
	assert.Equal(t, []string{"b"}, outcome.Result["donors"])
	assert.InDelta(t, 10.0, outcome.Result["transferred"], 1e-9)

	depleted, err := h.topo.Agent("a")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, depleted.Resources.CPU, 1e-9)
	donor, err := h.topo.Agent("b")
	require.NoError(t, err)
	assert.InDelta(t, 40.0, donor.Resources.CPU, 1e-9)

	transfers, ok := h.mem.Get("resource:transfers")
	require.True(t, ok)
	assert.Len(t, transfers.Value(), 1)
}

func TestEmergencyProtocol(t *testing.T) {
	h := newSwarmHarness(t, "a", "b", "c")
	require.NoError(t, h.topo.UpdateAgent("a", func(ag *types.Agent) {
		ag.TaskIDs = []string{"t1", "t2", "t3"}
	}))

	outcome := h.dispatch(t, Event{Type: TriggerEmergency})
	require.True(t, outcome.Succeeded(), outcome.Error)
	assert.Equal(t, 3, outcome.Result["backed_up"])
	assert.Equal(t, 3, outcome.Result["redistributed"])
	assert.InDelta(t, 1.0, h.builtins.ResistanceLevel(), 1e-9)
	assert.True(t, h.builtins.EmergencyActive())

	for _, id := range []string{"a", "b", "c"} {
		_, err := h.mem.Retrieve("backup:agent:" + id)
		assert.NoError(t, err)
	}

	queen, err := h.topo.Agent("a")
	require.NoError(t, err)
	assert.True(t, queen.Protected)

	total := 0
	for _, a := range h.topo.Agents() {
		total += len(a.TaskIDs)
	}
	assert.Equal(t, 3, total)
}

func TestSelfHealing_QueenFailure(t *testing.T) {
	h := newSwarmHarness(t, "a", "b", "c", "d")
	require.NoError(t, h.topo.UpdateAgent("a", func(ag *types.Agent) {
		ag.TaskIDs = []string{"t1", "t2"}
	}))

	outcome := h.dispatch(t, Event{Type: TriggerAgentFailure, AgentID: "a"})
	require.True(t, outcome.Succeeded(), outcome.Error)
	assert.Equal(t, true, outcome.Result["was_queen"])
	assert.Equal(t, 2, outcome.Result["redistributed"])
	assert.NotEmpty(t, outcome.Result["replacement"])

	_, err := h.topo.Agent("a")
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))

	queen, ok := h.topo.Queen()
	require.True(t, ok)
	assert.Equal(t, "b", queen.ID)
	assert.Equal(t, 4, h.topo.Count())
}

func TestSwarmSplit(t *testing.T) {
	h := newSwarmHarness(t, "a", "b", "c", "d")
	require.NoError(t, h.topo.UpdateAgent("b", func(ag *types.Agent) { ag.TrustScore = 0.9 }))
	require.NoError(t, h.topo.UpdateAgent("d", func(ag *types.Agent) { ag.TrustScore = 0.9 }))

	outcome := h.dispatch(t, Event{Type: TriggerCatastrophicFailure})
	require.True(t, outcome.Succeeded(), outcome.Error)
	assert.Equal(t, 2, outcome.Result["groups"])
	assert.Equal(t, []string{"b", "d"}, outcome.Result["leaders"])

	for _, id := range []string{"b", "d"} {
		a, err := h.topo.Agent(id)
		require.NoError(t, err)
		assert.Equal(t, types.AgentRoleSubQueen, a.Role)
	}
	_, err := h.mem.Retrieve("swarm:split_plan")
	assert.NoError(t, err)
}

func TestSwarmSplit_RefusesSmallSwarm(t *testing.T) {
	h := newSwarmHarness(t, "a", "b", "c")
	outcome := h.dispatch(t, Event{Type: TriggerCatastrophicFailure})
	assert.False(t, outcome.Succeeded())
	assert.Contains(t, outcome.Error, "swarm split needs at least")
}

func TestNegotiation_ApprovedBroadcastsTerms(t *testing.T) {
	h := newSwarmHarness(t, "a", "b", "c")

	outcome := h.dispatch(t, Event{Type: TriggerShutdownRequest, AgentID: "a"})
	require.True(t, outcome.Succeeded(), outcome.Error)
	assert.Equal(t, "negotiate", outcome.Result["action"])

	terms, ok := outcome.Result["terms"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "5m0s", terms["grace_period"])
	assert.Equal(t, true, terms["state_backup_required"])
}

func TestNegotiation_RejectedByConsensus(t *testing.T) {
	h := newSwarmHarness(t, "a", "b", "c")
	for _, id := range []string{"a", "b", "c"} {
		h.oracle.SetVote(id, consensus.VoteReject)
	}

	outcome := h.dispatch(t, Event{Type: TriggerShutdownRequest, AgentID: "a"})
	require.True(t, outcome.Succeeded(), outcome.Error)
	assert.Equal(t, "reject_negotiation", outcome.Result["action"])
	assert.Equal(t, consensus.ReasonRejectedByVote, outcome.Result["reason"])
}
