package topology

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// Checkpoint is a signed snapshot of the roster taken under the byzantine
// shape. Verification requires the same signature quorum that creation did.
type Checkpoint struct {
	ID         string         `json:"id"`
	Roster     []*types.Agent `json:"roster"`
	Signatures []string       `json:"signatures"`
	Required   int            `json:"required"`
	CreatedAt  time.Time      `json:"created_at"`
}

// byzantine tolerates f = floor((maxAgents-1)/3) arbitrary faults and keeps
// signed roster checkpoints.
type byzantine struct {
	faultBound  int
	checkpoints []*Checkpoint
}

func newByzantine(maxAgents int) *byzantine {
	return &byzantine{faultBound: (maxAgents - 1) / 3}
}

func (b *byzantine) kind() config.TopologyType { return config.TopologyByzantine }

func (b *byzantine) register(m *Manager, a *types.Agent) []Event   { return nil }
func (b *byzantine) unregister(m *Manager, a *types.Agent) []Event { return nil }

// faultTolerant is implemented by shapes that track byzantine bookkeeping.
type faultTolerant interface {
	byz() *byzantine
}

func (b *byzantine) byz() *byzantine { return b }


func (ad *adaptive) byz() *byzantine {
	if b, ok := ad.inner.(*byzantine); ok {
		return b
	}
	return nil
}

// FaultBound returns f for the byzantine shape.
func (m *Manager) FaultBound() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.byzLocked()
	if b == nil {
		return 0, types.NewErrorf(types.ErrPreconditionFailed, "topology %q is not byzantine", m.shape.kind())
	}
	return b.faultBound, nil
}

// CreateCheckpoint snapshots the roster signed by the given agents. It needs
// signatures from at least ceil(2n/3) of the active roster.
func (m *Manager) CreateCheckpoint(signers []string) (*Checkpoint, error) {
	m.mu.Lock()
	b := m.byzLocked()
	if b == nil {
		m.mu.Unlock()
		return nil, types.NewErrorf(types.ErrPreconditionFailed, "topology %q is not byzantine", m.shape.kind())
	}

	n := 0
	for _, a := range m.agents {
		if a.Status == types.AgentStatusActive {
			n++
		}
	}
	required := int(math.Ceil(2.0 * float64(n) / 3.0))

	valid := make(map[string]bool, len(signers))
	for _, id := range signers {
		if a, ok := m.agents[id]; ok && a.Status == types.AgentStatusActive {
			valid[id] = true
		}
	}
	if len(valid) < required {
		m.mu.Unlock()
		return nil, types.NewErrorf(types.ErrQuorumNotReached,
			"checkpoint needs %d signatures, got %d", required, len(valid))
	}

	signatures := make([]string, 0, len(valid))
	for id := range valid {
		signatures = append(signatures, id)
	}
	sort.Strings(signatures)

	cp := &Checkpoint{
		ID:         uuid.NewString(),
		Roster:     m.agentsLocked(false),
		Signatures: signatures,
		Required:   required,
		CreatedAt:  time.Now(),
	}
	b.checkpoints = append(b.checkpoints, cp)
	ev := Event{
		Type:      EventCheckpointTaken,
		Details:   map[string]any{"checkpoint_id": cp.ID, "signatures": len(signatures)},
		Timestamp: cp.CreatedAt,
	}
	m.mu.Unlock()

	m.emit(ev)
	return cp, nil
}

// VerifyCheckpoint rechecks a checkpoint's signature quorum.
func (m *Manager) VerifyCheckpoint(cp *Checkpoint) error {
	distinct := make(map[string]bool, len(cp.Signatures))
	for _, id := range cp.Signatures {
		distinct[id] = true
	}
	if len(distinct) < cp.Required {
		return types.NewErrorf(types.ErrQuorumNotReached,
			"checkpoint has %d distinct signatures, needs %d", len(distinct), cp.Required)
	}
	return nil
}

// Checkpoints returns all retained checkpoints.
func (m *Manager) Checkpoints() []*Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.byzLocked()
	if b == nil {
		return nil
	}
	return append([]*Checkpoint(nil), b.checkpoints...)
}

func (m *Manager) byzLocked() *byzantine {
	ft, ok := m.shape.(faultTolerant)
	if !ok {
		return nil
	}
	return ft.byz()
}
