package consensus

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// VotingOracle supplies vote outcomes and phase acknowledgements for remote
// participants. Production deployments back this with real ballots collected
// over the network; tests script it.
type VotingOracle interface {
	// Vote returns the participant's vote on the proposal.
	Vote(ctx context.Context, participantID string, p *Proposal) VoteValue
	// Ack reports whether the participant acknowledges the given phase.
	Ack(ctx context.Context, participantID string, phase Phase, p *Proposal) bool
}

// TrustWeightedOracle simulates participant behavior with seeded randomness
// weighted by per-participant trust scores. It is the default oracle for
// in-process swarms and drills.
type TrustWeightedOracle struct {
	mu           sync.Mutex
	trust        map[string]float64
	defaultTrust float64
	rng          *rand.Rand
}

// NewTrustWeightedOracle creates an oracle. A zero seed derives one from the
// current time.
func NewTrustWeightedOracle(defaultTrust float64, seed int64) *TrustWeightedOracle {
	if defaultTrust <= 0 || defaultTrust > 1 {
		defaultTrust = 0.8
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &TrustWeightedOracle{
		trust:        make(map[string]float64),
		defaultTrust: defaultTrust,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// SetTrust records a participant's trust score in [0,1].
func (o *TrustWeightedOracle) SetTrust(participantID string, trust float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trust[participantID] = trust
}

// Vote implements VotingOracle: approval probability follows trust.
func (o *TrustWeightedOracle) Vote(ctx context.Context, participantID string, p *Proposal) VoteValue {
	o.mu.Lock()
	defer o.mu.Unlock()
	roll := o.rng.Float64()
	trust := o.trustLocked(participantID)
	switch {
	case roll < trust:
		return VoteApprove
	case roll < trust+(1-trust)/2:
		return VoteReject
	default:
		return VoteAbstain
	}
}

// Ack implements VotingOracle: acknowledgement probability follows trust.
func (o *TrustWeightedOracle) Ack(ctx context.Context, participantID string, phase Phase, p *Proposal) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Float64() < o.trustLocked(participantID)
}

func (o *TrustWeightedOracle) trustLocked(participantID string) float64 {
	if t, ok := o.trust[participantID]; ok {
		return t
	}
	return o.defaultTrust
}

// ScriptedOracle returns pre-programmed votes and acknowledgements. Zero
// value defaults: every participant approves and acks.
type ScriptedOracle struct {
	mu sync.Mutex
	// Votes maps participant id to its vote; missing entries fall back to
	// DefaultVote.
	Votes       map[string]VoteValue
	DefaultVote VoteValue
	// Acks maps "participant/phase" to an acknowledgement; missing entries
	// fall back to DefaultAck.
	Acks       map[string]bool
	DefaultAck *bool
}

// NewScriptedOracle creates an all-approving oracle to be customized.
func NewScriptedOracle() *ScriptedOracle {
	return &ScriptedOracle{
		Votes:       make(map[string]VoteValue),
		DefaultVote: VoteApprove,
		Acks:        make(map[string]bool),
	}
}

// SetVote scripts one participant's vote.
func (o *ScriptedOracle) SetVote(participantID string, v VoteValue) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Votes[participantID] = v
}

// SetAck scripts one participant's acknowledgement for a phase.
func (o *ScriptedOracle) SetAck(participantID string, phase Phase, ack bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Acks[participantID+"/"+string(phase)] = ack
}

// SetDefaultAck scripts the fallback acknowledgement.
func (o *ScriptedOracle) SetDefaultAck(ack bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.DefaultAck = &ack
}

// Vote implements VotingOracle.
func (o *ScriptedOracle) Vote(ctx context.Context, participantID string, p *Proposal) VoteValue {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.Votes[participantID]; ok {
		return v
	}
	if o.DefaultVote != VoteNone {
		return o.DefaultVote
	}
	return VoteApprove
}

// Ack implements VotingOracle.
func (o *ScriptedOracle) Ack(ctx context.Context, participantID string, phase Phase, p *Proposal) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ack, ok := o.Acks[participantID+"/"+string(phase)]; ok {
		return ack
	}
	if o.DefaultAck != nil {
		return *o.DefaultAck
	}
	return true
}
