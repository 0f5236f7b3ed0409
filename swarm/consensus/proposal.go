package consensus

import (
	"time"

	"github.com/BaSui01/swarmflow/config"
)

// VoteValue is a single participant's opinion on a proposal.
type VoteValue string

const (
	// VoteNone marks a participant that did not vote.
	VoteNone    VoteValue = ""
	VoteApprove VoteValue = "approve"
	VoteReject  VoteValue = "reject"
	VoteAbstain VoteValue = "abstain"
)

// Phase identifies an acknowledgement round within an algorithm.
type Phase string

const (
	PhaseElection   Phase = "election"
	PhaseReplicate  Phase = "replicate"
	PhasePrepare    Phase = "prepare"
	PhaseAccept     Phase = "accept"
	PhasePrePrepare Phase = "pre_prepare"
	PhaseCommit     Phase = "commit"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// Proposal is a consensus unit of work. Once decided it is immutable and
// retained for audit.
type Proposal struct {
	ID        string               `json:"id"`
	Payload   map[string]any       `json:"payload"`
	Status    ProposalStatus       `json:"status"`
	Votes     map[string]VoteValue `json:"votes"`
	CreatedAt time.Time            `json:"created_at"`
	DecidedAt time.Time            `json:"decided_at,omitzero"`
}

// Type returns the payload's type discriminator, if any.
func (p *Proposal) Type() string {
	if t, ok := p.Payload["type"].(string); ok {
		return t
	}
	return ""
}

// Decision is the structured outcome of running an algorithm on a proposal.
// Quorum failures are expected results, not errors.
type Decision struct {
	ProposalID  string                    `json:"proposal_id"`
	Approved    bool                      `json:"approved"`
	Algorithm   config.ConsensusAlgorithm `json:"algorithm"`
	Reason      string                    `json:"reason,omitempty"`
	Votes       map[string]VoteValue      `json:"votes,omitempty"`
	Diagnostics map[string]any            `json:"diagnostics,omitempty"`
	DecidedAt   time.Time                 `json:"decided_at"`
}

// Rejection reasons carried on decisions.
const (
	ReasonElectionFailed      = "election_failed"
	ReasonQuorumNotReached    = "quorum_not_reached"
	ReasonPrepareFailed       = "prepare_failed"
	ReasonAcceptFailed        = "accept_failed"
	ReasonPrepareQuorumFailed = "prepare_quorum_failed"
	ReasonCommitQuorumFailed  = "commit_quorum_failed"
	ReasonRejectedByVote      = "rejected_by_vote"
)

// majority is the strict-majority quorum: ceil(n/2).
func majority(n int) int {
	return (n + 1) / 2
}

// byzantineFaultBound is f = floor((n-1)/3).
func byzantineFaultBound(n int) int {
	if n <= 0 {
		return 0
	}
	return (n - 1) / 3
}
