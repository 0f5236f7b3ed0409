package consensus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/types"
)

// algorithm runs one agreement protocol over a proposal. Implementations
// read the participant set through the engine and consult the oracle for
// remote behavior.
type algorithm interface {
	name() config.ConsensusAlgorithm
	decide(ctx context.Context, e *Engine, p *Proposal) *Decision
}

// Stats summarizes consensus activity.
type Stats struct {
	Proposed int `json:"proposed"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// Engine decides proposals via the configured algorithm. Proposals and
// decisions are retained for audit; a rejected proposal is never retried
// automatically.
type Engine struct {
	mu           sync.RWMutex
	nodeID       string
	cfg          config.ConsensusConfig
	participants map[string]bool
	proposals    map[string]*Proposal
	decisions    map[string]*Decision
	stats        Stats

	oracle VotingOracle
	algo   algorithm
	logger *zap.Logger
}

// NewEngine creates an engine for the configured algorithm. Unknown
// algorithm names fail fast.
func NewEngine(nodeID string, cfg config.ConsensusConfig, oracle VotingOracle, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if oracle == nil {
		oracle = NewTrustWeightedOracle(0.8, 0)
	}
	if cfg.QuorumFraction <= 0 || cfg.QuorumFraction > 1 {
		cfg.QuorumFraction = 2.0 / 3.0
	}

	e := &Engine{
		nodeID:       nodeID,
		cfg:          cfg,
		participants: make(map[string]bool),
		proposals:    make(map[string]*Proposal),
		decisions:    make(map[string]*Decision),
		oracle:       oracle,
		logger:       logger.With(zap.String("component", "consensus_engine"), zap.String("node_id", nodeID)),
	}

	switch cfg.Algorithm {
	case config.ConsensusRaft:
		e.algo = newRaft()
	case config.ConsensusPaxos:
		e.algo = newPaxos()
	case config.ConsensusPBFT:
		e.algo = newPBFT()
	case config.ConsensusQuorum:
		e.algo = newQuorumVote(cfg.QuorumFraction)
	default:
		return nil, types.NewErrorf(types.ErrInvalidConfig, "unknown consensus algorithm %q", cfg.Algorithm)
	}
	return e, nil
}

// Algorithm returns the configured algorithm name.
func (e *Engine) Algorithm() config.ConsensusAlgorithm { return e.algo.name() }

// AddParticipant registers a voting participant.
func (e *Engine) AddParticipant(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.participants[id] = true
}

// RemoveParticipant drops a participant from future rounds.
func (e *Engine) RemoveParticipant(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.participants, id)
}

// Participants returns the sorted participant ids.
func (e *Engine) Participants() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.participants))
	for id := range e.participants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Propose submits a payload and runs the configured algorithm to a decision.
func (e *Engine) Propose(ctx context.Context, payload map[string]any) (*Decision, error) {
	if e.cfg.ProposalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ProposalTimeout)
		defer cancel()
	}

	p := &Proposal{
		ID:        uuid.NewString(),
		Payload:   payload,
		Status:    ProposalPending,
		Votes:     make(map[string]VoteValue),
		CreatedAt: time.Now(),
	}

	e.mu.Lock()
	e.proposals[p.ID] = p
	e.stats.Proposed++
	e.mu.Unlock()

	decision := e.algo.decide(ctx, e, p)
	decision.ProposalID = p.ID
	decision.Algorithm = e.algo.name()
	decision.DecidedAt = time.Now()

	e.mu.Lock()
	p.DecidedAt = decision.DecidedAt
	for id, v := range decision.Votes {
		p.Votes[id] = v
	}
	if decision.Approved {
		p.Status = ProposalApproved
		e.stats.Approved++
	} else {
		p.Status = ProposalRejected
		e.stats.Rejected++
	}
	e.decisions[p.ID] = decision
	e.mu.Unlock()

	e.logger.Debug("proposal decided",
		zap.String("proposal_id", p.ID),
		zap.String("type", p.Type()),
		zap.Bool("approved", decision.Approved),
		zap.String("reason", decision.Reason),
	)
	return decision, nil
}

// Vote records an out-of-band vote on a pending proposal. It does not drive
// the algorithm; decided proposals are immutable.
func (e *Engine) Vote(proposalID, participantID string, v VoteValue) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[proposalID]
	if !ok {
		return types.NewErrorf(types.ErrProposalNotFound, "proposal %q not found", proposalID)
	}
	if p.Status != ProposalPending {
		return types.NewErrorf(types.ErrPreconditionFailed, "proposal %q already %s", proposalID, p.Status)
	}
	p.Votes[participantID] = v
	return nil
}

// Proposal returns a proposal by id.
func (e *Engine) Proposal(id string) (*Proposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.proposals[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrProposalNotFound, "proposal %q not found", id)
	}
	return p, nil
}

// Decisions returns all retained decisions.
func (e *Engine) Decisions() []*Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Decision, 0, len(e.decisions))
	for _, d := range e.decisions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out
}

// Statistics returns proposal counters.
func (e *Engine) Statistics() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// participantList snapshots the participant ids for an algorithm round.
func (e *Engine) participantList() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.participants))
	for id := range e.participants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
