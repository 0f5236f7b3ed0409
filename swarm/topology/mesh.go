package topology

import (
	"sort"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// mesh keeps full peer connectivity: joining connects the agent to every
// existing peer, leaving removes it from every adjacency list.
type mesh struct {
	adjacency map[string]map[string]bool
}

func newMesh() *mesh {
	return &mesh{adjacency: make(map[string]map[string]bool)}
}

func (x *mesh) kind() config.TopologyType { return config.TopologyMesh }

func (x *mesh) register(m *Manager, a *types.Agent) []Event {
	a.Role = types.AgentRolePeer
	links := make(map[string]bool, len(x.adjacency))
	for id := range x.adjacency {
		links[id] = true
		x.adjacency[id][a.ID] = true
	}
	x.adjacency[a.ID] = links
	return nil
}

func (x *mesh) unregister(m *Manager, a *types.Agent) []Event {
	delete(x.adjacency, a.ID)
	for _, links := range x.adjacency {
		delete(links, a.ID)
	}
	return nil
}

func (x *mesh) neighbors(id string) ([]string, bool) {
	links, ok := x.adjacency[id]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(links))
	for peer := range links {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out, true
}

// neighborhood is implemented by shapes that track peer adjacency.
type neighborhood interface {
	neighbors(id string) ([]string, bool)
}

// Neighbors returns the sorted adjacency list for an agent. Only mesh shapes
// (directly or as the adaptive inner shape) track adjacency.
func (m *Manager) Neighbors(id string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nh, ok := m.shape.(neighborhood)
	if !ok {
		return nil, types.NewErrorf(types.ErrPreconditionFailed, "topology %q does not track adjacency", m.shape.kind())
	}
	out, ok := nh.neighbors(id)
	if !ok {
		return nil, types.NewErrorf(types.ErrAgentNotFound, "agent %q not found", id)
	}
	return out, nil
}
