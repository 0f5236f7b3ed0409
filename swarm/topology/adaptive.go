package topology

import (
	"sort"
	"time"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// adaptive wraps an inner shape and re-evaluates roster metrics on a timer
// driven by the coordinator. High failure rates favor byzantine, small
// collaborative swarms favor mesh, large swarms favor a hierarchy.
type adaptive struct {
	cfg   config.TopologyConfig
	inner variant
}

func newAdaptive(cfg config.TopologyConfig) *adaptive {
	return &adaptive{cfg: cfg, inner: newHierarchical()}
}

func (ad *adaptive) kind() config.TopologyType { return config.TopologyAdaptive }

func (ad *adaptive) register(m *Manager, a *types.Agent) []Event {
	return ad.inner.register(m, a)
}

func (ad *adaptive) unregister(m *Manager, a *types.Agent) []Event {
	return ad.inner.unregister(m, a)
}

func (ad *adaptive) neighbors(id string) ([]string, bool) {
	if nh, ok := ad.inner.(neighborhood); ok {
		return nh.neighbors(id)
	}
	return nil, false
}

// evaluate picks the shape the current metrics call for. Called with the
// manager's lock held.
func (ad *adaptive) evaluate(m *Manager) config.TopologyType {
	count := 0
	var successSum float64
	for _, a := range m.agents {
		if a.Status != types.AgentStatusActive {
			continue
		}
		count++
		successSum += a.SuccessRate
	}
	collaboration := 0.0
	if count > 0 {
		collaboration = successSum / float64(count)
	}
	failureRate := 0.0
	if m.stats.registered > 0 {
		failureRate = float64(m.stats.failures) / float64(m.stats.registered)
	}

	switch {
	case failureRate > ad.cfg.FailureRateThreshold:
		return config.TopologyByzantine
	case count >= ad.cfg.LargeSwarmSize:
		return config.TopologyHierarchical
	case count <= ad.cfg.SmallSwarmSize && collaboration >= ad.cfg.CollaborationThreshold:
		return config.TopologyMesh
	default:
		return ad.inner.kind()
	}
}

// switchInner replaces the inner shape and re-registers the roster into it.
// Called with the manager's lock held; returns events to emit after release.
func (ad *adaptive) switchInner(m *Manager, target config.TopologyType) []Event {
	if target == ad.inner.kind() {
		return nil
	}
	inner, err := newVariant(target, ad.cfg)
	if err != nil {
		return nil
	}
	from := ad.inner.kind()
	ad.inner = inner
	m.state = StateNormal

	events := []Event{{
		Type:      EventTopologySwitched,
		Details:   map[string]any{"from": string(from), "to": string(target)},
		Timestamp: time.Now(),
	}}
	roster := make([]*types.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		roster = append(roster, a)
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].RegisteredAt.Before(roster[j].RegisteredAt) })
	for _, a := range roster {
		a.Role = types.AgentRoleWorker
		a.Protected = false
		events = append(events, ad.inner.register(m, a)...)
	}
	return events
}
