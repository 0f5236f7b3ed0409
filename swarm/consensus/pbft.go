package consensus

import (
	"context"

	"github.com/BaSui01/swarmflow/config"
)

// pbft implements byzantine three-phase agreement: pre-prepare broadcast,
// then prepare and commit rounds that each need acknowledgements from at
// least n-f replicas, with f = floor((n-1)/3).
type pbft struct{}

func newPBFT() *pbft {
	return &pbft{}
}

func (pb *pbft) name() config.ConsensusAlgorithm { return config.ConsensusPBFT }

func (pb *pbft) decide(ctx context.Context, e *Engine, p *Proposal) *Decision {
	participants := e.participantList()
	n := len(participants) + 1
	f := byzantineFaultBound(n)
	quorum := n - f

	// Pre-prepare: the primary announces the proposal to every replica.
	for _, id := range participants {
		e.oracle.Ack(ctx, id, PhasePrePrepare, p)
	}

	prepares := 1 // the primary prepares its own announcement
	for _, id := range participants {
		if e.oracle.Ack(ctx, id, PhasePrepare, p) {
			prepares++
		}
	}
	if prepares < quorum {
		return &Decision{
			Approved: false,
			Reason:   ReasonPrepareQuorumFailed,
			Diagnostics: map[string]any{
				"n":        n,
				"f":        f,
				"prepares": prepares,
				"quorum":   quorum,
			},
		}
	}

	commits := 1
	for _, id := range participants {
		if e.oracle.Ack(ctx, id, PhaseCommit, p) {
			commits++
		}
	}
	if commits < quorum {
		return &Decision{
			Approved: false,
			Reason:   ReasonCommitQuorumFailed,
			Diagnostics: map[string]any{
				"n":        n,
				"f":        f,
				"prepares": prepares,
				"commits":  commits,
				"quorum":   quorum,
			},
		}
	}

	return &Decision{
		Approved: true,
		Diagnostics: map[string]any{
			"n":        n,
			"f":        f,
			"prepares": prepares,
			"commits":  commits,
			"quorum":   quorum,
		},
	}
}
