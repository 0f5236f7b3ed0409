package topology

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// SwarmState is the manager's operational mode.
type SwarmState string

const (
	StateNormal    SwarmState = "normal"
	StateEmergency SwarmState = "emergency"
)

// rosterStats feeds the adaptive topology's evaluation.
type rosterStats struct {
	registered       int
	removed          int
	failures         int
	tasksDistributed int
}

// variant holds the shape-specific bookkeeping. Methods are called with the
// manager's lock held and return events to emit once the lock is released.
type variant interface {
	kind() config.TopologyType
	register(m *Manager, a *types.Agent) []Event
	unregister(m *Manager, a *types.Agent) []Event
}

// Manager owns the agent roster. All mutation goes through its public
// operations; other components receive clones.
type Manager struct {
	mu        sync.RWMutex
	cfg       config.TopologyConfig
	agents    map[string]*types.Agent
	shape     variant
	state     SwarmState
	stats     rosterStats
	listeners []Listener
	logger    *zap.Logger
}

// NewManager creates a manager for the configured topology type.
func NewManager(cfg config.TopologyConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAgents <= 0 {
		return nil, types.NewError(types.ErrInvalidConfig, "topology max_agents must be positive")
	}
	m := &Manager{
		cfg:    cfg,
		agents: make(map[string]*types.Agent),
		state:  StateNormal,
		logger: logger.With(zap.String("component", "topology_manager")),
	}
	shape, err := newVariant(cfg.Type, cfg)
	if err != nil {
		return nil, err
	}
	m.shape = shape
	return m, nil
}

func newVariant(t config.TopologyType, cfg config.TopologyConfig) (variant, error) {
	switch t {
	case config.TopologyHierarchical:
		return newHierarchical(), nil
	case config.TopologyMesh:
		return newMesh(), nil
	case config.TopologyAdaptive:
		return newAdaptive(cfg), nil
	case config.TopologyByzantine:
		return newByzantine(cfg.MaxAgents), nil
	default:
		return nil, types.NewErrorf(types.ErrInvalidConfig, "unknown topology type %q", t)
	}
}

// Subscribe adds a listener for roster and shape events.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Type returns the configured topology type.
func (m *Manager) Type() config.TopologyType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shape.kind()
}

// State returns the operational mode.
func (m *Manager) State() SwarmState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Register adds an agent to the roster. Fails when the roster is at capacity
// or the id is already taken.
func (m *Manager) Register(a *types.Agent) (*types.Agent, error) {
	m.mu.Lock()
	if len(m.agents) >= m.cfg.MaxAgents {
		m.mu.Unlock()
		return nil, types.NewErrorf(types.ErrCapacityExceeded, "roster full at %d agents", m.cfg.MaxAgents)
	}
	if _, exists := m.agents[a.ID]; exists {
		m.mu.Unlock()
		return nil, types.NewErrorf(types.ErrPreconditionFailed, "agent %q already registered", a.ID)
	}

	now := time.Now()
	if a.Status == "" {
		a.Status = types.AgentStatusActive
	}
	if a.Role == "" {
		a.Role = types.AgentRoleWorker
	}
	if a.RegisteredAt.IsZero() {
		a.RegisteredAt = now
	}
	a.LastSeen = now
	m.agents[a.ID] = a
	m.stats.registered++

	events := []Event{{Type: EventAgentRegistered, AgentID: a.ID, Timestamp: now}}
	events = append(events, m.shape.register(m, a)...)
	clone := a.Clone()
	m.mu.Unlock()

	m.logger.Debug("agent registered", zap.String("agent_id", a.ID), zap.String("role", string(clone.Role)))
	m.emit(events...)
	return clone, nil
}

// Unregister removes an agent. The reason is carried on the emitted event so
// the behavior engine can distinguish graceful departures from failures.
func (m *Manager) Unregister(id, reason string) (*types.Agent, error) {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return nil, types.NewErrorf(types.ErrAgentNotFound, "agent %q not found", id)
	}
	delete(m.agents, id)
	m.stats.removed++
	if reason != "graceful" {
		m.stats.failures++
	}

	events := []Event{{
		Type:      EventAgentRemoved,
		AgentID:   id,
		Details:   map[string]any{"reason": reason},
		Timestamp: time.Now(),
	}}
	events = append(events, m.shape.unregister(m, a)...)
	clone := a.Clone()
	m.mu.Unlock()

	m.logger.Debug("agent removed", zap.String("agent_id", id), zap.String("reason", reason))
	m.emit(events...)
	return clone, nil
}

// Agent returns a clone of the agent with the given id.
func (m *Manager) Agent(id string) (*types.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrAgentNotFound, "agent %q not found", id)
	}
	return a.Clone(), nil
}

// Agents returns clones of all agents, sorted by id.
func (m *Manager) Agents() []*types.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agentsLocked(false)
}

// ActiveAgents returns clones of all active agents, sorted by id.
func (m *Manager) ActiveAgents() []*types.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agentsLocked(true)
}

func (m *Manager) agentsLocked(activeOnly bool) []*types.Agent {
	out := make([]*types.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if activeOnly && a.Status != types.AgentStatusActive {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the roster size.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// UpdateAgent applies fn to the named agent under the manager's lock. This is
// the only mutation path other components may use.
func (m *Manager) UpdateAgent(id string, fn func(*types.Agent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return types.NewErrorf(types.ErrAgentNotFound, "agent %q not found", id)
	}
	fn(a)
	a.LastSeen = time.Now()
	return nil
}

// Queen returns the current queen in a hierarchy, if one exists.
func (m *Manager) Queen() (*types.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.agents {
		if a.Role == types.AgentRoleQueen && a.Status == types.AgentStatusActive {
			return a.Clone(), true
		}
	}
	return nil, false
}

// Quarantine marks an agent quarantined and reduces its trust score.
func (m *Manager) Quarantine(id string, trustPenalty float64) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return types.NewErrorf(types.ErrAgentNotFound, "agent %q not found", id)
	}
	a.Status = types.AgentStatusQuarantined
	a.TrustScore -= trustPenalty
	if a.TrustScore < 0 {
		a.TrustScore = 0
	}
	ev := Event{
		Type:      EventAgentQuarantined,
		AgentID:   id,
		Details:   map[string]any{"trust_score": a.TrustScore},
		Timestamp: time.Now(),
	}
	m.mu.Unlock()

	m.logger.Warn("agent quarantined", zap.String("agent_id", id))
	m.emit(ev)
	return nil
}

// SwitchTopology snapshots the roster, reinitializes shape structures for the
// target type, and re-registers every agent.
func (m *Manager) SwitchTopology(target config.TopologyType) error {
	m.mu.Lock()
	if target == m.shape.kind() {
		m.mu.Unlock()
		return nil
	}
	shape, err := newVariant(target, m.cfg)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	from := m.shape.kind()
	m.shape = shape
	m.state = StateNormal

	events := []Event{{
		Type:      EventTopologySwitched,
		Details:   map[string]any{"from": string(from), "to": string(target)},
		Timestamp: time.Now(),
	}}
	// Re-register in registration order so hierarchical queenship stays with
	// the longest-lived agent.
	roster := make([]*types.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		roster = append(roster, a)
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].RegisteredAt.Before(roster[j].RegisteredAt) })
	for _, a := range roster {
		a.Role = types.AgentRoleWorker
		a.Protected = false
		events = append(events, m.shape.register(m, a)...)
	}
	m.mu.Unlock()

	m.logger.Info("topology switched", zap.String("from", string(from)), zap.String("to", string(target)))
	m.emit(events...)
	return nil
}

// EvaluateAdaptive runs one adaptive evaluation round. It reports whether a
// switch happened and to which type. Non-adaptive topologies are a no-op.
func (m *Manager) EvaluateAdaptive() (bool, config.TopologyType) {
	m.mu.RLock()
	ad, ok := m.shape.(*adaptive)
	if !ok {
		m.mu.RUnlock()
		return false, m.shape.kind()
	}
	target := ad.evaluate(m)
	current := ad.inner.kind()
	m.mu.RUnlock()

	if target == current {
		return false, current
	}
	m.switchAdaptiveInner(target)
	return true, target
}

func (m *Manager) switchAdaptiveInner(target config.TopologyType) {
	m.mu.Lock()
	ad, ok := m.shape.(*adaptive)
	if !ok {
		m.mu.Unlock()
		return
	}
	events := ad.switchInner(m, target)
	m.mu.Unlock()
	m.emit(events...)
}

// RecordTaskOutcome folds a task result into roster statistics and the
// executing agent's success rate (exponential moving average).
func (m *Manager) RecordTaskOutcome(agentID string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !success {
		m.stats.failures++
	}
	if a, ok := m.agents[agentID]; ok {
		sample := 0.0
		if success {
			sample = 1.0
		}
		a.SuccessRate = 0.8*a.SuccessRate + 0.2*sample
	}
}

// Statistics returns roster counters.
func (m *Manager) Statistics() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"registered":        m.stats.registered,
		"removed":           m.stats.removed,
		"failures":          m.stats.failures,
		"tasks_distributed": m.stats.tasksDistributed,
	}
}

func (m *Manager) emit(events ...Event) {
	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.RUnlock()
	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}
