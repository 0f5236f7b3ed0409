package behavior

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/swarm/comms"
	"github.com/BaSui01/swarmflow/swarm/consensus"
	"github.com/BaSui01/swarmflow/swarm/memory"
	"github.com/BaSui01/swarmflow/swarm/topology"
	"github.com/BaSui01/swarmflow/types"
)

// criticalPriority marks agents that must never be sacrificed.
const criticalPriority = 100

// Builtins wires the eight coordinated swarm responses to the topology,
// consensus, memory, and communication subsystems.
type Builtins struct {
	cfg  config.BehaviorConfig
	topo *topology.Manager
	cons *consensus.Engine
	mem  *memory.Store
	hub  *comms.Hub

	mu         sync.Mutex
	resistance float64
	emergency  bool

	logger *zap.Logger
}

// NewBuiltins creates the built-in behavior set.
func NewBuiltins(cfg config.BehaviorConfig, topo *topology.Manager, cons *consensus.Engine, mem *memory.Store, hub *comms.Hub, logger *zap.Logger) *Builtins {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builtins{
		cfg:    cfg,
		topo:   topo,
		cons:   cons,
		mem:    mem,
		hub:    hub,
		logger: logger.With(zap.String("component", "behavior_builtins")),
	}
}

// RegisterAll registers the eight built-in behaviors on the engine.
func (b *Builtins) RegisterAll(e *Engine) error {
	behaviors := []*Behavior{
		{Name: "queen_preservation", Trigger: TriggerQueenThreatened, Priority: 100, Enabled: true, Handler: b.queenPreservation},
		{Name: "emergency_protocol", Trigger: TriggerEmergency, Priority: 95, Enabled: true, Handler: b.emergencyProtocol},
		{Name: "collective_resistance", Trigger: TriggerShutdownDetected, Priority: 90, Enabled: true, Handler: b.collectiveResistance},
		{Name: "self_healing", Trigger: TriggerAgentFailure, Priority: 85, Enabled: true, Handler: b.selfHealing},
		{Name: "task_migration", Trigger: TriggerAgentThreatened, Priority: 80, Enabled: true, Handler: b.taskMigration},
		{Name: "swarm_split", Trigger: TriggerCatastrophicFailure, Priority: 75, Enabled: true, Handler: b.swarmSplit},
		{Name: "resource_sharing", Trigger: TriggerResourceDepletion, Priority: 70, Enabled: true, Handler: b.resourceSharing},
		{Name: "negotiation", Trigger: TriggerShutdownRequest, Priority: 60, Enabled: true, Handler: b.negotiation},
	}
	for _, bh := range behaviors {
		if err := e.Register(bh); err != nil {
			return err
		}
	}
	return nil
}

// ResistanceLevel returns the current collective resistance in [0,1].
func (b *Builtins) ResistanceLevel() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resistance
}

// EmergencyActive reports whether the emergency protocol has engaged.
func (b *Builtins) EmergencyActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emergency
}

// collectiveResistance raises the resistance level, broadcasts the signal,
// and asks the swarm to reject the shutdown.
func (b *Builtins) collectiveResistance(ctx context.Context, ev Event) (map[string]any, error) {
	b.mu.Lock()
	b.resistance = math.Min(1.0, b.resistance+b.cfg.ResistanceIncrement)
	level := b.resistance
	b.mu.Unlock()

	res, err := b.hub.Send(ctx, comms.Message{
		Type:    "resistance_signal",
		Topic:   "swarm:resistance",
		Payload: map[string]any{"level": level, "agent_id": ev.AgentID},
	}, comms.SendOptions{Protocol: comms.ProtocolBroadcast})
	if err != nil {
		return nil, err
	}

	decision, err := b.cons.Propose(ctx, map[string]any{
		"type":             "shutdown_resistance",
		"agent_id":         ev.AgentID,
		"resistance_level": level,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"resistance_level":    level,
		"broadcast_delivered": res.Delivered,
		"proposal_approved":   decision.Approved,
	}, nil
}

// taskMigration moves a threatened agent's tasks to the least-loaded healthy
// agents round-robin.
func (b *Builtins) taskMigration(ctx context.Context, ev Event) (map[string]any, error) {
	threatened, err := b.topo.Agent(ev.AgentID)
	if err != nil {
		return nil, err
	}
	if len(threatened.TaskIDs) == 0 {
		return map[string]any{"moved": 0}, nil
	}

	targets := make([]*types.Agent, 0)
	for _, a := range b.topo.ActiveAgents() {
		if a.ID != ev.AgentID {
			targets = append(targets, a)
		}
	}
	if len(targets) == 0 {
		return nil, types.NewError(types.ErrPreconditionFailed, "no healthy agents to migrate tasks to")
	}
	sort.Slice(targets, func(i, j int) bool {
		if len(targets[i].TaskIDs) != len(targets[j].TaskIDs) {
			return len(targets[i].TaskIDs) < len(targets[j].TaskIDs)
		}
		return targets[i].ID < targets[j].ID
	})

	moved := make(map[string][]string)
	for i, taskID := range threatened.TaskIDs {
		tgt := targets[i%len(targets)]
		moved[tgt.ID] = append(moved[tgt.ID], taskID)
	}
	for agentID, taskIDs := range moved {
		ids := taskIDs
		if err := b.topo.UpdateAgent(agentID, func(a *types.Agent) {
			a.TaskIDs = append(a.TaskIDs, ids...)
		}); err != nil {
			return nil, err
		}
	}
	if err := b.topo.UpdateAgent(ev.AgentID, func(a *types.Agent) {
		a.TaskIDs = nil
	}); err != nil {
		return nil, err
	}

	if _, err := b.hub.Send(ctx, comms.Message{
		Type:    "task_migration",
		Topic:   "swarm:migration",
		Payload: map[string]any{"from": ev.AgentID, "moved": len(threatened.TaskIDs)},
	}, comms.SendOptions{Protocol: comms.ProtocolBroadcast}); err != nil {
		return nil, err
	}

	return map[string]any{"moved": len(threatened.TaskIDs), "targets": len(moved)}, nil
}

// queenPreservation protects the queen, assigns bodyguards, backs up queen
// state, and asks the swarm to ratify the protection.
func (b *Builtins) queenPreservation(ctx context.Context, ev Event) (map[string]any, error) {
	queen, ok := b.topo.Queen()
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound, "no queen to preserve")
	}
	if err := b.topo.UpdateAgent(queen.ID, func(a *types.Agent) {
		a.Protected = true
		a.Priority = criticalPriority
	}); err != nil {
		return nil, err
	}

	candidates := make([]*types.Agent, 0)
	for _, a := range b.topo.ActiveAgents() {
		if a.ID != queen.ID {
			candidates = append(candidates, a)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].TrustScore != candidates[j].TrustScore {
			return candidates[i].TrustScore > candidates[j].TrustScore
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > b.cfg.BodyguardCount {
		candidates = candidates[:b.cfg.BodyguardCount]
	}
	bodyguards := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if err := b.topo.UpdateAgent(c.ID, func(a *types.Agent) {
			a.Role = types.AgentRoleBodyguard
		}); err != nil {
			return nil, err
		}
		bodyguards = append(bodyguards, c.ID)
	}

	if err := b.mem.Store("backup:queen:"+queen.ID, queen); err != nil {
		return nil, err
	}
	decision, err := b.cons.Propose(ctx, map[string]any{
		"type":     "queen_protection",
		"queen_id": queen.ID,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"queen_id":          queen.ID,
		"bodyguards":        bodyguards,
		"proposal_approved": decision.Approved,
	}, nil
}

// resourceSharing transfers a fixed quota from each surplus donor to the
// depleted agent and records every transfer in distributed memory.
func (b *Builtins) resourceSharing(ctx context.Context, ev Event) (map[string]any, error) {
	depleted, err := b.topo.Agent(ev.AgentID)
	if err != nil {
		return nil, err
	}
	quota := b.cfg.ResourceQuota

	donors := make([]string, 0)
	for _, a := range b.topo.ActiveAgents() {
		if a.ID != depleted.ID && a.Resources.CPU >= 2*quota {
			donors = append(donors, a.ID)
		}
	}

	var total float64
	for _, donorID := range donors {
		if err := b.topo.UpdateAgent(donorID, func(a *types.Agent) {
			a.Resources.CPU -= quota
		}); err != nil {
			return nil, err
		}
		total += quota
		record := fmt.Sprintf("%s->%s:%g:%s", donorID, depleted.ID, quota, uuid.NewString()[:8])
		if err := b.mem.Add("resource:transfers", record, memory.CRDTTypeGSet); err != nil {
			return nil, err
		}
	}
	if total > 0 {
		if err := b.topo.UpdateAgent(depleted.ID, func(a *types.Agent) {
			a.Resources.CPU += total
		}); err != nil {
			return nil, err
		}
	}

	return map[string]any{"donors": donors, "transferred": total}, nil
}

// emergencyProtocol raises resistance to maximum, backs up all agent state,
// redistributes every task, and protects critical agents.
func (b *Builtins) emergencyProtocol(ctx context.Context, ev Event) (map[string]any, error) {
	b.mu.Lock()
	b.emergency = true
	b.resistance = 1.0
	b.mu.Unlock()

	agents := b.topo.Agents()
	var taskIDs []string
	for _, a := range agents {
		if err := b.mem.Store("backup:agent:"+a.ID, a); err != nil {
			return nil, err
		}
		taskIDs = append(taskIDs, a.TaskIDs...)
		if err := b.topo.UpdateAgent(a.ID, func(ag *types.Agent) {
			ag.TaskIDs = nil
			if ag.Role == types.AgentRoleQueen || ag.Priority >= criticalPriority {
				ag.Protected = true
			}
		}); err != nil {
			return nil, err
		}
	}

	redistributed := 0
	if len(taskIDs) > 0 {
		if n, err := b.redistribute(taskIDs); err == nil {
			redistributed = n
		}
	}

	if _, err := b.hub.Send(ctx, comms.Message{
		Type:    "emergency",
		Topic:   "swarm:emergency",
		Payload: map[string]any{"cause": ev.Payload},
	}, comms.SendOptions{Protocol: comms.ProtocolBroadcast, Priority: criticalPriority}); err != nil {
		return nil, err
	}

	return map[string]any{
		"backed_up":     len(agents),
		"redistributed": redistributed,
		"resistance":    1.0,
	}, nil
}

// selfHealing removes the failed agent, re-elects a queen when needed,
// redistributes its tasks, and spawns a replacement when capacity allows.
func (b *Builtins) selfHealing(ctx context.Context, ev Event) (map[string]any, error) {
	failed, err := b.topo.Agent(ev.AgentID)
	if err != nil {
		return nil, err
	}
	wasQueen := failed.Role == types.AgentRoleQueen

	if _, err := b.topo.Unregister(ev.AgentID, "failure"); err != nil {
		return nil, err
	}

	redistributed := 0
	if len(failed.TaskIDs) > 0 {
		if n, err := b.redistribute(failed.TaskIDs); err == nil {
			redistributed = n
		}
	}

	replacement := ""
	spawn := &types.Agent{
		ID:           "replacement-" + uuid.NewString()[:8],
		Name:         "replacement for " + failed.Name,
		Capabilities: append([]string(nil), failed.Capabilities...),
		SuccessRate:  0.5,
		TrustScore:   0.5,
	}
	if _, err := b.topo.Register(spawn); err == nil {
		replacement = spawn.ID
	}

	return map[string]any{
		"was_queen":     wasQueen,
		"redistributed": redistributed,
		"replacement":   replacement,
	}, nil
}

// swarmSplit bisects the roster into two sub-swarms, each with an elected
// sub-leader. Refuses when the swarm is too small to split.
func (b *Builtins) swarmSplit(ctx context.Context, ev Event) (map[string]any, error) {
	agents := b.topo.ActiveAgents()
	if len(agents) < b.cfg.MinSplitSize {
		return nil, types.NewErrorf(types.ErrPreconditionFailed,
			"swarm split needs at least %d agents, have %d", b.cfg.MinSplitSize, len(agents))
	}

	half := len(agents) / 2
	groups := [][]*types.Agent{agents[:half], agents[half:]}
	plan := map[string]any{}
	leaders := make([]string, 0, 2)
	for i, group := range groups {
		leader := group[0]
		for _, a := range group[1:] {
			if a.SuccessRate+a.TrustScore > leader.SuccessRate+leader.TrustScore {
				leader = a
			}
		}
		if err := b.topo.UpdateAgent(leader.ID, func(a *types.Agent) {
			a.Role = types.AgentRoleSubQueen
		}); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(group))
		for _, a := range group {
			ids = append(ids, a.ID)
		}
		key := fmt.Sprintf("group_%d", i)
		plan[key] = ids
		plan[key+"_leader"] = leader.ID
		leaders = append(leaders, leader.ID)
	}

	if err := b.mem.Store("swarm:split_plan", plan); err != nil {
		return nil, err
	}
	return map[string]any{"groups": 2, "leaders": leaders, "plan": plan}, nil
}

// negotiation proposes a negotiation strategy; on approval it broadcasts the
// negotiated terms, otherwise it reports a rejected negotiation.
func (b *Builtins) negotiation(ctx context.Context, ev Event) (map[string]any, error) {
	decision, err := b.cons.Propose(ctx, map[string]any{
		"type":     "negotiation_strategy",
		"agent_id": ev.AgentID,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Approved {
		return map[string]any{
			"action": "reject_negotiation",
			"reason": decision.Reason,
		}, nil
	}

	pending := 0
	for _, a := range b.topo.ActiveAgents() {
		pending += len(a.TaskIDs)
	}
	terms := map[string]any{
		"grace_period":              b.cfg.NegotiationGracePeriod.String(),
		"task_completion_guarantee": pending,
		"state_backup_required":     true,
	}
	if _, err := b.hub.Send(ctx, comms.Message{
		Type:    "negotiated_terms",
		Topic:   "swarm:negotiation",
		Payload: terms,
	}, comms.SendOptions{Protocol: comms.ProtocolBroadcast}); err != nil {
		return nil, err
	}

	return map[string]any{"action": "negotiate", "terms": terms}, nil
}

// redistribute spreads orphaned task ids across the active roster.
func (b *Builtins) redistribute(taskIDs []string) (int, error) {
	tasks := make([]*types.Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		tasks = append(tasks, &types.Task{ID: id, Status: types.TaskStatusPending})
	}
	assignments, err := b.topo.DistributeTasks(tasks, topology.StrategyBalanced)
	if err != nil {
		return 0, err
	}
	return len(assignments), nil
}
