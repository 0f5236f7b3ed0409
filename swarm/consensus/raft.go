package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/swarmflow/config"
)

// raftRole is the node's position in the leader-based protocol.
type raftRole string

const (
	raftFollower  raftRole = "follower"
	raftCandidate raftRole = "candidate"
	raftLeader    raftRole = "leader"
)

// raftLogEntry is one replicated log record.
type raftLogEntry struct {
	Index     int            `json:"index"`
	Term      uint64         `json:"term"`
	Payload   map[string]any `json:"payload"`
	Committed bool           `json:"committed"`
	AppendAt  time.Time      `json:"append_at"`
}

// raft implements leader-based log replication. A non-leader node runs an
// election (candidate, term increment, vote requests) before proposing; the
// leader appends to its log and commits once replication acknowledgements
// plus the leader itself reach a strict majority.
type raft struct {
	mu   sync.Mutex
	role raftRole
	term uint64
	log  []raftLogEntry
}

func newRaft() *raft {
	return &raft{role: raftFollower}
}

func (r *raft) name() config.ConsensusAlgorithm { return config.ConsensusRaft }

func (r *raft) decide(ctx context.Context, e *Engine, p *Proposal) *Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	participants := e.participantList()
	n := len(participants) + 1 // plus self

	if r.role != raftLeader {
		if !r.electLocked(ctx, e, participants, n, p) {
			return &Decision{
				Approved: false,
				Reason:   ReasonElectionFailed,
				Diagnostics: map[string]any{
					"term": r.term,
					"role": string(r.role),
				},
			}
		}
	}

	entry := raftLogEntry{
		Index:    len(r.log),
		Term:     r.term,
		Payload:  p.Payload,
		AppendAt: time.Now(),
	}
	r.log = append(r.log, entry)

	// Replicate to followers; the leader's own copy counts toward quorum.
	acks := 1
	for _, id := range participants {
		if e.oracle.Ack(ctx, id, PhaseReplicate, p) {
			acks++
		}
	}

	quorum := majority(n)
	if acks < quorum {
		return &Decision{
			Approved: false,
			Reason:   ReasonQuorumNotReached,
			Diagnostics: map[string]any{
				"term":   r.term,
				"acks":   acks,
				"quorum": quorum,
			},
		}
	}

	r.log[entry.Index].Committed = true
	return &Decision{
		Approved: true,
		Diagnostics: map[string]any{
			"term":      r.term,
			"acks":      acks,
			"quorum":    quorum,
			"log_index": entry.Index,
		},
	}
}

// electLocked runs one election round. Success promotes this node to leader;
// failure demotes it back to follower.
func (r *raft) electLocked(ctx context.Context, e *Engine, participants []string, n int, p *Proposal) bool {
	r.role = raftCandidate
	r.term++

	votes := 1 // votes for itself
	for _, id := range participants {
		if e.oracle.Ack(ctx, id, PhaseElection, p) {
			votes++
		}
	}

	if votes >= majority(n) {
		r.role = raftLeader
		return true
	}
	r.role = raftFollower
	return false
}
