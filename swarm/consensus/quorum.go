package consensus

import (
	"context"
	"math"

	"github.com/BaSui01/swarmflow/config"
)

// quorumVote collects approve/reject/abstain votes from all participants.
// A decision requires total votes >= ceil(n * fraction); approval
// additionally requires more approvals than rejections.
type quorumVote struct {
	fraction float64
}

func newQuorumVote(fraction float64) *quorumVote {
	return &quorumVote{fraction: fraction}
}

func (q *quorumVote) name() config.ConsensusAlgorithm { return config.ConsensusQuorum }

func (q *quorumVote) decide(ctx context.Context, e *Engine, p *Proposal) *Decision {
	participants := e.participantList()
	n := len(participants)
	threshold := int(math.Ceil(float64(n) * q.fraction))

	votes := make(map[string]VoteValue, n)
	var approvals, rejections, total int
	for _, id := range participants {
		v := e.oracle.Vote(ctx, id, p)
		votes[id] = v
		switch v {
		case VoteApprove:
			approvals++
			total++
		case VoteReject:
			rejections++
			total++
		case VoteAbstain:
			total++
		}
	}

	diag := map[string]any{
		"n":          n,
		"threshold":  threshold,
		"total":      total,
		"approvals":  approvals,
		"rejections": rejections,
	}

	if total < threshold {
		return &Decision{
			Approved:    false,
			Reason:      ReasonQuorumNotReached,
			Votes:       votes,
			Diagnostics: diag,
		}
	}
	if approvals <= rejections {
		return &Decision{
			Approved:    false,
			Reason:      ReasonRejectedByVote,
			Votes:       votes,
			Diagnostics: diag,
		}
	}
	return &Decision{
		Approved:    true,
		Votes:       votes,
		Diagnostics: diag,
	}
}
