package topology

import (
	"sort"
	"time"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// Election weights over uptime, success rate, and trust score.
const (
	electionUptimeWeight  = 0.3
	electionSuccessWeight = 0.4
	electionTrustWeight   = 0.3
)

// hierarchical keeps a single queen. The first registrant becomes queen; on
// queen loss a new one is elected by weighted score, or the manager enters
// the emergency state when no candidate remains.
type hierarchical struct {
	queenID string
}

func newHierarchical() *hierarchical { return &hierarchical{} }

func (h *hierarchical) kind() config.TopologyType { return config.TopologyHierarchical }

func (h *hierarchical) register(m *Manager, a *types.Agent) []Event {
	if h.queenID == "" && a.Status == types.AgentStatusActive {
		h.queenID = a.ID
		a.Role = types.AgentRoleQueen
		m.state = StateNormal
		return []Event{{Type: EventQueenElected, AgentID: a.ID, Timestamp: time.Now()}}
	}
	if a.Role == types.AgentRoleQueen {
		a.Role = types.AgentRoleWorker
	}
	return nil
}

func (h *hierarchical) unregister(m *Manager, a *types.Agent) []Event {
	if a.ID != h.queenID {
		return nil
	}
	h.queenID = ""
	return h.elect(m)
}

// elect promotes the best-scoring active agent. Uptime is normalized against
// the longest-lived candidate so all three components share the [0,1] range.
func (h *hierarchical) elect(m *Manager) []Event {
	now := time.Now()
	candidates := make([]*types.Agent, 0, len(m.agents))
	var maxUptime time.Duration
	for _, c := range m.agents {
		if c.Status != types.AgentStatusActive {
			continue
		}
		candidates = append(candidates, c)
		if u := c.Uptime(now); u > maxUptime {
			maxUptime = u
		}
	}
	if len(candidates) == 0 {
		m.state = StateEmergency
		return []Event{{
			Type:      EventEmergencyEntered,
			Details:   map[string]any{"cause": "no queen candidate"},
			Timestamp: now,
		}}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	var best *types.Agent
	var bestScore float64
	for _, c := range candidates {
		score := electionScore(c, now, maxUptime)
		if best == nil || score > bestScore {
			best, bestScore = c, score
		}
	}
	h.queenID = best.ID
	best.Role = types.AgentRoleQueen
	return []Event{{
		Type:      EventQueenElected,
		AgentID:   best.ID,
		Details:   map[string]any{"score": bestScore},
		Timestamp: now,
	}}
}

func electionScore(a *types.Agent, now time.Time, maxUptime time.Duration) float64 {
	uptime := 0.0
	if maxUptime > 0 {
		uptime = float64(a.Uptime(now)) / float64(maxUptime)
	}
	return electionUptimeWeight*uptime +
		electionSuccessWeight*a.SuccessRate +
		electionTrustWeight*a.TrustScore
}
