package swarm

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/swarm/behavior"
	"github.com/BaSui01/swarmflow/swarm/comms"
	"github.com/BaSui01/swarmflow/swarm/consensus"
	"github.com/BaSui01/swarmflow/swarm/memory"
	"github.com/BaSui01/swarmflow/swarm/topology"
	"github.com/BaSui01/swarmflow/types"
)

// Unregistration reasons understood by the façade. Any reason other than
// graceful fires a behavior trigger before removal completes.
const (
	ReasonGraceful = "graceful"
	ReasonFailure  = "failure"
	ReasonThreat   = "threat"
)

const topicMemorySync = "memory_sync"

// AgentSpec is the external configuration for a new agent.
type AgentSpec struct {
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Resources    types.Resources `json:"resources,omitzero"`
	Priority     int             `json:"priority,omitempty"`
}

// TaskResult is the structured outcome of AssignTask.
type TaskResult struct {
	TaskID      string             `json:"task_id"`
	Assignments []types.Assignment `json:"assignments"`
}

// Option customizes a Coordinator.
type Option func(*coordinatorOptions)

type coordinatorOptions struct {
	logger    *zap.Logger
	transport comms.Transport
	oracle    consensus.VotingOracle
	snapshots SnapshotStore
}

// WithLogger injects a logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *coordinatorOptions) { o.logger = logger }
}

// WithTransport injects the peer-delivery transport.
func WithTransport(t comms.Transport) Option {
	return func(o *coordinatorOptions) { o.transport = t }
}

// WithOracle injects the consensus voting oracle.
func WithOracle(oracle consensus.VotingOracle) Option {
	return func(o *coordinatorOptions) { o.oracle = oracle }
}

// WithSnapshotStore injects the snapshot persistence backend.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(o *coordinatorOptions) { o.snapshots = s }
}

// Coordinator composes the swarm subsystems and owns their lifecycle.
type Coordinator struct {
	cfg    *config.Config
	nodeID string
	logger *zap.Logger

	topo      *topology.Manager
	cons      *consensus.Engine
	mem       *memory.Store
	hub       *comms.Hub
	behaviors *behavior.Engine
	builtins  *behavior.Builtins
	metrics   *metricsSet
	snapshots SnapshotStore

	mu        sync.Mutex
	running   bool
	done      chan struct{}
	wg        sync.WaitGroup
	startedAt time.Time
	tasks     map[string]*types.Task
}

// New creates a coordinator from the given configuration.
func New(cfg *config.Config, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o coordinatorOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = buildLogger(cfg.Log)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidConfig, "build logger").WithCause(err)
		}
	}
	logger = logger.With(zap.String("swarm", cfg.Swarm.Name))

	nodeID := cfg.Swarm.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	topo, err := topology.NewManager(cfg.Topology, logger)
	if err != nil {
		return nil, err
	}
	cons, err := consensus.NewEngine(nodeID, cfg.Consensus, o.oracle, logger)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(nodeID, cfg.Memory, logger)
	hub := comms.NewHub(nodeID, cfg.Comms, o.transport, logger)
	engine := behavior.NewEngine(cfg.Behavior, logger)
	builtins := behavior.NewBuiltins(cfg.Behavior, topo, cons, mem, hub, logger)
	if err := builtins.RegisterAll(engine); err != nil {
		return nil, err
	}

	snapshots := o.snapshots
	if snapshots == nil && cfg.Snapshot.Enabled {
		snapshots = NewRedisSnapshotStore(cfg.Snapshot)
	}

	c := &Coordinator{
		cfg:       cfg,
		nodeID:    nodeID,
		logger:    logger.With(zap.String("component", "coordinator"), zap.String("node_id", nodeID)),
		topo:      topo,
		cons:      cons,
		mem:       mem,
		hub:       hub,
		behaviors: engine,
		builtins:  builtins,
		metrics:   newMetricsSet(),
		snapshots: snapshots,
		tasks:     make(map[string]*types.Task),
	}
	topo.Subscribe(c.onTopologyEvent)
	hub.Subscribe(topicMemorySync, c.onMemorySync)
	return c, nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

// NodeID returns this coordinator's node identifier.
func (c *Coordinator) NodeID() string { return c.nodeID }

// Start launches the background timers: memory garbage collection, the
// anti-entropy gossip round, and adaptive topology checks. Idempotent.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	c.startedAt = time.Now()
	c.done = make(chan struct{})

	c.mem.Start()

	syncInterval := c.cfg.Memory.GCInterval / 2
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}
	c.wg.Add(1)
	go c.syncLoop(syncInterval, c.done)

	if c.cfg.Topology.Type == config.TopologyAdaptive && c.cfg.Topology.CheckInterval > 0 {
		c.wg.Add(1)
		go c.adaptiveLoop(c.cfg.Topology.CheckInterval, c.done)
	}

	c.logger.Info("coordinator started")
	return nil
}

// Stop halts all background timers and releases peer and channel state.
// Idempotent.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	c.mem.Stop()
	c.hub.Reset()
	c.logger.Info("coordinator stopped")
	return nil
}

func (c *Coordinator) syncLoop(interval time.Duration, done chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.gossipMemoryState(context.Background())
		}
	}
}

func (c *Coordinator) adaptiveLoop(interval time.Duration, done chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if switched, target := c.topo.EvaluateAdaptive(); switched {
				c.logger.Info("adaptive topology switch", zap.String("target", string(target)))
			}
		}
	}
}

// gossipMemoryState pushes the local CRDT state to peers for anti-entropy.
func (c *Coordinator) gossipMemoryState(ctx context.Context) {
	state, err := c.mem.State(time.Time{})
	if err != nil {
		c.logger.Warn("memory state snapshot failed", zap.Error(err))
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		c.logger.Warn("memory state encode failed", zap.Error(err))
		return
	}
	_, err = c.hub.Send(ctx, comms.Message{
		Type:    topicMemorySync,
		Topic:   topicMemorySync,
		Payload: map[string]any{"state": json.RawMessage(data)},
	}, comms.SendOptions{Protocol: comms.ProtocolGossip})
	if err != nil {
		c.logger.Debug("anti-entropy gossip failed", zap.Error(err))
	}
}

// onMemorySync merges remote CRDT state delivered by peers.
func (c *Coordinator) onMemorySync(msg comms.Message) {
	raw, ok := msg.Payload["state"]
	if !ok {
		return
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	var state memory.StoreState
	if err := json.Unmarshal(data, &state); err != nil {
		c.logger.Debug("memory sync decode failed", zap.Error(err))
		return
	}
	if state.NodeID == c.nodeID {
		return
	}
	if err := c.mem.MergeState(&state); err != nil {
		c.logger.Warn("memory sync merge failed", zap.Error(err))
	}
}

func (c *Coordinator) onTopologyEvent(ev topology.Event) {
	c.metrics.agents.Set(float64(c.topo.Count()))
	switch ev.Type {
	case topology.EventQueenElected:
		c.logger.Info("queen elected", zap.String("agent_id", ev.AgentID))
	case topology.EventEmergencyEntered:
		c.logger.Warn("topology entered emergency state")
	}
}

// RegisterAgent adds an agent to the swarm and enrolls it as a consensus
// participant and communication peer.
func (c *Coordinator) RegisterAgent(spec AgentSpec) (*types.Agent, error) {
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	name := spec.Name
	if name == "" {
		name = id
	}
	agent := &types.Agent{
		ID:           id,
		Name:         name,
		Capabilities: append([]string(nil), spec.Capabilities...),
		Resources:    spec.Resources,
		Priority:     spec.Priority,
		SuccessRate:  0.5,
		TrustScore:   0.8,
	}
	registered, err := c.topo.Register(agent)
	if err != nil {
		return nil, err
	}
	c.cons.AddParticipant(id)
	c.hub.AddPeer(id)
	c.metrics.agents.Set(float64(c.topo.Count()))
	return registered, nil
}

// UnregisterAgent removes an agent. Non-graceful reasons fire the matching
// behavior trigger before removal completes.
func (c *Coordinator) UnregisterAgent(ctx context.Context, id, reason string) error {
	if _, err := c.topo.Agent(id); err != nil {
		return err
	}

	switch reason {
	case ReasonGraceful, "":
		reason = ReasonGraceful
	case ReasonFailure:
		outcomes := c.behaviors.Dispatch(ctx, behavior.Event{Type: behavior.TriggerAgentFailure, AgentID: id})
		c.recordOutcomes(outcomes)
	default:
		outcomes := c.behaviors.Dispatch(ctx, behavior.Event{Type: behavior.TriggerAgentThreatened, AgentID: id})
		c.recordOutcomes(outcomes)
	}

	// Self-healing may have removed the agent already.
	if _, err := c.topo.Unregister(id, reason); err != nil && types.GetErrorCode(err) != types.ErrAgentNotFound {
		return err
	}
	c.cons.RemoveParticipant(id)
	c.hub.RemovePeer(id)
	c.syncMembership()
	c.metrics.agents.Set(float64(c.topo.Count()))
	return nil
}

// AssignTask persists the task, distributes it across the roster, and
// publishes a swarm:task notification.
func (c *Coordinator) AssignTask(ctx context.Context, task *types.Task) (*TaskResult, error) {
	if task == nil {
		return nil, types.NewError(types.ErrPreconditionFailed, "nil task")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.Status = types.TaskStatusPending

	if err := c.mem.Store("task:"+task.ID, task); err != nil {
		return nil, err
	}

	strategy := topology.StrategyBalanced
	switch {
	case len(task.RequiredCapabilities) > 0:
		strategy = topology.StrategyCapability
	case task.Priority > 0:
		strategy = topology.StrategyPriority
	}
	assignments, err := c.topo.DistributeTasks([]*types.Task{task}, strategy)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tasks[task.ID] = task
	c.mu.Unlock()

	c.hub.Publish("swarm:task", map[string]any{
		"task_id":  task.ID,
		"agent_id": assignments[0].AgentID,
		"type":     task.Type,
	})
	c.metrics.messages.WithLabelValues("swarm:task").Inc()
	return &TaskResult{TaskID: task.ID, Assignments: assignments}, nil
}

// Task returns a previously assigned task.
func (c *Coordinator) Task(id string) (*types.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrKeyNotFound, "task %q not found", id)
	}
	return t, nil
}

// syncMembership reconciles consensus participants and hub peers with the
// roster after behaviors mutated it (replacement spawns, removals).
func (c *Coordinator) syncMembership() {
	for _, a := range c.topo.Agents() {
		c.cons.AddParticipant(a.ID)
		c.hub.AddPeer(a.ID)
	}
}

func (c *Coordinator) recordOutcomes(outcomes []behavior.Outcome) {
	for _, o := range outcomes {
		result := "success"
		if !o.Succeeded() {
			result = "failure"
		}
		c.metrics.behaviorExecs.WithLabelValues(o.Behavior, result).Inc()
	}
}
