package topology

import (
	"sort"
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// Strategy selects how tasks are spread across active agents.
type Strategy string

const (
	// StrategyBalanced round-robins tasks across active agents.
	StrategyBalanced Strategy = "balanced"
	// StrategyCapability assigns each task to the agent holding the largest
	// fraction of its required capability tags.
	StrategyCapability Strategy = "capability"
	// StrategyPriority sorts tasks by descending priority, then balances.
	StrategyPriority Strategy = "priority"
)

// DistributeTasks assigns every task to exactly one active agent and records
// the assignment on both the task and the agent's task list.
func (m *Manager) DistributeTasks(tasks []*types.Task, strategy Strategy) ([]types.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make([]*types.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if a.Status == types.AgentStatusActive {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return nil, types.NewError(types.ErrPreconditionFailed, "no active agents to distribute to")
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	var assignments []types.Assignment
	switch strategy {
	case StrategyBalanced:
		assignments = assignBalanced(tasks, active)
	case StrategyCapability:
		assignments = assignByCapability(tasks, active)
	case StrategyPriority:
		ordered := append([]*types.Task(nil), tasks...)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })
		assignments = assignBalanced(ordered, active)
	default:
		return nil, types.NewErrorf(types.ErrInvalidConfig, "unknown distribution strategy %q", strategy)
	}

	byID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	now := time.Now()
	for _, as := range assignments {
		agent := m.agents[as.AgentID]
		agent.TaskIDs = append(agent.TaskIDs, as.TaskID)
		agent.LastSeen = now
		if t := byID[as.TaskID]; t != nil {
			t.Status = types.TaskStatusAssigned
			t.AssignedTo = as.AgentID
		}
	}
	m.stats.tasksDistributed += len(assignments)
	return assignments, nil
}

func assignBalanced(tasks []*types.Task, agents []*types.Agent) []types.Assignment {
	out := make([]types.Assignment, 0, len(tasks))
	for i, t := range tasks {
		out = append(out, types.Assignment{TaskID: t.ID, AgentID: agents[i%len(agents)].ID})
	}
	return out
}

func assignByCapability(tasks []*types.Task, agents []*types.Agent) []types.Assignment {
	out := make([]types.Assignment, 0, len(tasks))
	load := make(map[string]int, len(agents))
	for _, a := range agents {
		load[a.ID] = len(a.TaskIDs)
	}
	for _, t := range tasks {
		var best *types.Agent
		var bestScore float64
		for _, a := range agents {
			score := capabilityScore(t, a)
			switch {
			case best == nil,
				score > bestScore,
				score == bestScore && load[a.ID] < load[best.ID]:
				best, bestScore = a, score
			}
		}
		load[best.ID]++
		out = append(out, types.Assignment{TaskID: t.ID, AgentID: best.ID})
	}
	return out
}

// capabilityScore is the fraction of the task's required tags the agent
// holds. Tasks without requirements score every agent equally.
func capabilityScore(t *types.Task, a *types.Agent) float64 {
	if len(t.RequiredCapabilities) == 0 {
		return 1
	}
	held := 0
	for _, tag := range t.RequiredCapabilities {
		if a.HasCapability(tag) {
			held++
		}
	}
	return float64(held) / float64(len(t.RequiredCapabilities))
}
