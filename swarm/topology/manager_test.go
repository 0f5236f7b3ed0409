package topology

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

func newTestManager(t *testing.T, topo config.TopologyType) (*Manager, *eventRecorder) {
	t.Helper()
	cfg := config.DefaultTopologyConfig()
	cfg.Type = topo
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	rec := &eventRecorder{}
	m.Subscribe(rec.record)
	return m, rec
}

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) record(ev Event) { r.events = append(r.events, ev) }

func (r *eventRecorder) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testAgent(id string) *types.Agent {
	return &types.Agent{
		ID:           id,
		Name:         id,
		SuccessRate:  0.5,
		TrustScore:   0.5,
		RegisteredAt: time.Now().Add(-time.Hour),
	}
}

func TestManager_CapacityLimit(t *testing.T) {
	cfg := config.DefaultTopologyConfig()
	cfg.MaxAgents = 2
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	_, err = m.Register(testAgent("a"))
	require.NoError(t, err)
	_, err = m.Register(testAgent("b"))
	require.NoError(t, err)

	_, err = m.Register(testAgent("c"))
	require.Error(t, err)
	assert.Equal(t, types.ErrCapacityExceeded, types.GetErrorCode(err))
	assert.Equal(t, 2, m.Count())
}

func TestManager_DuplicateRegistration(t *testing.T) {
	m, _ := newTestManager(t, config.TopologyHierarchical)
	_, err := m.Register(testAgent("a"))
	require.NoError(t, err)
	_, err = m.Register(testAgent("a"))
	require.Error(t, err)
	assert.Equal(t, types.ErrPreconditionFailed, types.GetErrorCode(err))
}

func TestManager_UnregisterUnknown(t *testing.T) {
	m, _ := newTestManager(t, config.TopologyHierarchical)
	_, err := m.Unregister("ghost", "graceful")
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
}

func TestHierarchical_FirstRegistrantIsQueen(t *testing.T) {
	m, rec := newTestManager(t, config.TopologyHierarchical)

	first, err := m.Register(testAgent("first"))
	require.NoError(t, err)
	assert.Equal(t, types.AgentRoleQueen, first.Role)

	for i := 0; i < 4; i++ {
		a, err := m.Register(testAgent(fmt.Sprintf("w%d", i)))
		require.NoError(t, err)
		assert.Equal(t, types.AgentRoleWorker, a.Role)
	}

	queen, ok := m.Queen()
	require.True(t, ok)
	assert.Equal(t, "first", queen.ID)
	assert.Len(t, rec.ofType(EventQueenElected), 1)
}

func TestHierarchical_ReElectionUsesWeightedScore(t *testing.T) {
	m, rec := newTestManager(t, config.TopologyHierarchical)

	// Equal registration times so the election turns on success and trust.
	registered := time.Now().Add(-time.Hour)
	agents := []*types.Agent{
		{ID: "queen-0", SuccessRate: 0.5, TrustScore: 0.5, RegisteredAt: registered},
		{ID: "meek", SuccessRate: 0.2, TrustScore: 0.3, RegisteredAt: registered},
		{ID: "steady", SuccessRate: 0.6, TrustScore: 0.6, RegisteredAt: registered},
		{ID: "star", SuccessRate: 0.9, TrustScore: 0.9, RegisteredAt: registered},
		{ID: "solid", SuccessRate: 0.7, TrustScore: 0.5, RegisteredAt: registered},
	}
	for _, a := range agents {
		_, err := m.Register(a)
		require.NoError(t, err)
	}

	_, err := m.Unregister("queen-0", "graceful")
	require.NoError(t, err)

	queen, ok := m.Queen()
	require.True(t, ok)
	assert.Equal(t, "star", queen.ID)
	assert.Equal(t, StateNormal, m.State())

	elections := rec.ofType(EventQueenElected)
	require.Len(t, elections, 2)
	assert.Equal(t, "star", elections[1].AgentID)
}

func TestHierarchical_EmergencyWithoutCandidates(t *testing.T) {
	m, rec := newTestManager(t, config.TopologyHierarchical)
	_, err := m.Register(testAgent("only"))
	require.NoError(t, err)

	_, err = m.Unregister("only", "failure")
	require.NoError(t, err)

	assert.Equal(t, StateEmergency, m.State())
	assert.Len(t, rec.ofType(EventEmergencyEntered), 1)

	// A fresh registrant becomes queen and clears the emergency.
	a, err := m.Register(testAgent("rescue"))
	require.NoError(t, err)
	assert.Equal(t, types.AgentRoleQueen, a.Role)
	assert.Equal(t, StateNormal, m.State())
}

func TestMesh_BidirectionalAdjacency(t *testing.T) {
	m, _ := newTestManager(t, config.TopologyMesh)
	for _, id := range []string{"a", "b", "c"} {
		a, err := m.Register(testAgent(id))
		require.NoError(t, err)
		assert.Equal(t, types.AgentRolePeer, a.Role)
	}

	nb, err := m.Neighbors("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, nb)

	_, err = m.Unregister("b", "graceful")
	require.NoError(t, err)
	nb, err = m.Neighbors("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, nb)
}

func TestMesh_NeighborsErrors(t *testing.T) {
	m, _ := newTestManager(t, config.TopologyMesh)
	_, err := m.Neighbors("ghost")
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))

	h, _ := newTestManager(t, config.TopologyHierarchical)
	_, err = h.Neighbors("any")
	assert.Equal(t, types.ErrPreconditionFailed, types.GetErrorCode(err))
}

func TestSwitchTopology_ReRegistersRoster(t *testing.T) {
	m, rec := newTestManager(t, config.TopologyHierarchical)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		a := testAgent(id)
		a.RegisteredAt = base.Add(time.Duration(i) * time.Minute)
		_, err := m.Register(a)
		require.NoError(t, err)
	}

	require.NoError(t, m.SwitchTopology(config.TopologyMesh))
	assert.Equal(t, config.TopologyMesh, m.Type())
	for _, a := range m.Agents() {
		assert.Equal(t, types.AgentRolePeer, a.Role)
	}
	nb, err := m.Neighbors("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, nb)

	// Switching back crowns the longest-registered agent.
	require.NoError(t, m.SwitchTopology(config.TopologyHierarchical))
	queen, ok := m.Queen()
	require.True(t, ok)
	assert.Equal(t, "a", queen.ID)
	assert.Len(t, rec.ofType(EventTopologySwitched), 2)
}

func TestByzantine_Checkpoints(t *testing.T) {
	cfg := config.DefaultTopologyConfig()
	cfg.Type = config.TopologyByzantine
	cfg.MaxAgents = 10
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	f, err := m.FaultBound()
	require.NoError(t, err)
	assert.Equal(t, 3, f)

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := m.Register(testAgent(id))
		require.NoError(t, err)
	}

	// 4 active agents: quorum is ceil(8/3) = 3.
	_, err = m.CreateCheckpoint([]string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, types.ErrQuorumNotReached, types.GetErrorCode(err))

	cp, err := m.CreateCheckpoint([]string{"a", "b", "c", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Required)
	assert.Equal(t, []string{"a", "b", "c"}, cp.Signatures)
	assert.Len(t, cp.Roster, 4)
	require.NoError(t, m.VerifyCheckpoint(cp))
	assert.Len(t, m.Checkpoints(), 1)

	// Duplicate signatures do not count twice.
	forged := &Checkpoint{Signatures: []string{"a", "a", "a"}, Required: 3}
	err = m.VerifyCheckpoint(forged)
	assert.Equal(t, types.ErrQuorumNotReached, types.GetErrorCode(err))
}

func TestByzantine_QuarantineReducesTrust(t *testing.T) {
	m, rec := newTestManager(t, config.TopologyByzantine)
	_, err := m.Register(testAgent("suspect"))
	require.NoError(t, err)

	require.NoError(t, m.Quarantine("suspect", 0.2))
	a, err := m.Agent("suspect")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusQuarantined, a.Status)
	assert.InDelta(t, 0.3, a.TrustScore, 1e-9)
	assert.Empty(t, m.ActiveAgents())
	assert.Len(t, rec.ofType(EventAgentQuarantined), 1)
}

func TestAdaptive_SwitchesToMeshForSmallCollaborativeSwarm(t *testing.T) {
	m, rec := newTestManager(t, config.TopologyAdaptive)
	for _, id := range []string{"a", "b", "c"} {
		a := testAgent(id)
		a.SuccessRate = 0.9
		_, err := m.Register(a)
		require.NoError(t, err)
	}

	switched, target := m.EvaluateAdaptive()
	assert.True(t, switched)
	assert.Equal(t, config.TopologyMesh, target)
	assert.Equal(t, config.TopologyAdaptive, m.Type())
	assert.Len(t, rec.ofType(EventTopologySwitched), 1)

	nb, err := m.Neighbors("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, nb)
}

func TestAdaptive_SwitchesToByzantineOnFailures(t *testing.T) {
	m, _ := newTestManager(t, config.TopologyAdaptive)
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Register(testAgent(id))
		require.NoError(t, err)
	}
	_, err := m.Unregister("b", "failure")
	require.NoError(t, err)
	_, err = m.Unregister("c", "failure")
	require.NoError(t, err)

	switched, target := m.EvaluateAdaptive()
	assert.True(t, switched)
	assert.Equal(t, config.TopologyByzantine, target)
}

func TestAdaptive_NoOpForOtherTopologies(t *testing.T) {
	m, _ := newTestManager(t, config.TopologyMesh)
	switched, target := m.EvaluateAdaptive()
	assert.False(t, switched)
	assert.Equal(t, config.TopologyMesh, target)
}

func TestManager_UpdateAgent(t *testing.T) {
	m, _ := newTestManager(t, config.TopologyHierarchical)
	_, err := m.Register(testAgent("a"))
	require.NoError(t, err)

	require.NoError(t, m.UpdateAgent("a", func(a *types.Agent) {
		a.Protected = true
		a.Priority = 9
	}))
	a, err := m.Agent("a")
	require.NoError(t, err)
	assert.True(t, a.Protected)
	assert.Equal(t, 9, a.Priority)

	err = m.UpdateAgent("ghost", func(*types.Agent) {})
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
}

func TestManager_RecordTaskOutcome(t *testing.T) {
	m, _ := newTestManager(t, config.TopologyHierarchical)
	_, err := m.Register(testAgent("a"))
	require.NoError(t, err)

	m.RecordTaskOutcome("a", true)
	a, err := m.Agent("a")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, a.SuccessRate, 1e-9)

	m.RecordTaskOutcome("a", false)
	a, err = m.Agent("a")
	require.NoError(t, err)
	assert.InDelta(t, 0.48, a.SuccessRate, 1e-9)
}
