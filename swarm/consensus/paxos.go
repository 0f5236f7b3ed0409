package consensus

import (
	"context"
	"sync"

	"github.com/BaSui01/swarmflow/config"
)

// paxos implements two-phase quorum agreement: phase 1 collects promises
// against a monotonic proposal number, phase 2 collects accepts. Both phases
// need a strict majority, counting the proposer itself.
type paxos struct {
	mu             sync.Mutex
	proposalNumber uint64
}

func newPaxos() *paxos {
	return &paxos{}
}

func (px *paxos) name() config.ConsensusAlgorithm { return config.ConsensusPaxos }

func (px *paxos) decide(ctx context.Context, e *Engine, p *Proposal) *Decision {
	px.mu.Lock()
	defer px.mu.Unlock()

	participants := e.participantList()
	n := len(participants) + 1
	quorum := majority(n)

	px.proposalNumber++
	number := px.proposalNumber

	// Phase 1: prepare. The proposer promises to itself.
	promises := 1
	for _, id := range participants {
		if e.oracle.Ack(ctx, id, PhasePrepare, p) {
			promises++
		}
	}
	if promises < quorum {
		return &Decision{
			Approved: false,
			Reason:   ReasonPrepareFailed,
			Diagnostics: map[string]any{
				"proposal_number": number,
				"promises":        promises,
				"quorum":          quorum,
			},
		}
	}

	// Phase 2: accept.
	accepts := 1
	for _, id := range participants {
		if e.oracle.Ack(ctx, id, PhaseAccept, p) {
			accepts++
		}
	}
	if accepts < quorum {
		return &Decision{
			Approved: false,
			Reason:   ReasonAcceptFailed,
			Diagnostics: map[string]any{
				"proposal_number": number,
				"promises":        promises,
				"accepts":         accepts,
				"quorum":          quorum,
			},
		}
	}

	return &Decision{
		Approved: true,
		Diagnostics: map[string]any{
			"proposal_number": number,
			"promises":        promises,
			"accepts":         accepts,
			"quorum":          quorum,
		},
	}
}
