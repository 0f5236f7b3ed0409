package consensus

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/swarmflow/config"
)

// Property: for any participant count, quorum fraction, and vote split, the
// quorum algorithm approves exactly when total votes reach ceil(n*fraction)
// and approvals outnumber rejections.
func TestProperty_QuorumDecisionMatchesThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("decision follows quorum arithmetic", prop.ForAll(
		func(approvals, rejections, abstentions, silent int, fractionPct int) bool {
			n := approvals + rejections + abstentions + silent
			if n == 0 {
				return true
			}
			fraction := float64(fractionPct) / 100.0

			oracle := NewScriptedOracle()
			cfg := config.DefaultConsensusConfig()
			cfg.Algorithm = config.ConsensusQuorum
			cfg.QuorumFraction = fraction
			e, err := NewEngine("node-0", cfg, oracle, nil)
			if err != nil {
				t.Logf("NewEngine failed: %v", err)
				return false
			}

			idx := 0
			addGroup := func(count int, v VoteValue) {
				for i := 0; i < count; i++ {
					id := fmt.Sprintf("p-%d", idx)
					idx++
					e.AddParticipant(id)
					oracle.SetVote(id, v)
				}
			}
			addGroup(approvals, VoteApprove)
			addGroup(rejections, VoteReject)
			addGroup(abstentions, VoteAbstain)
			addGroup(silent, VoteNone)

			d, err := e.Propose(context.Background(), map[string]any{"type": "prop"})
			if err != nil {
				t.Logf("Propose failed: %v", err)
				return false
			}

			threshold := int(math.Ceil(float64(n) * fraction))
			total := approvals + rejections + abstentions
			expected := total >= threshold && approvals > rejections
			if d.Approved != expected {
				t.Logf("n=%d fraction=%.2f approvals=%d rejections=%d abstentions=%d silent=%d: got %v want %v",
					n, fraction, approvals, rejections, abstentions, silent, d.Approved, expected)
				return false
			}

			// Rejection carries a reason explaining which gate failed.
			if !d.Approved {
				if total < threshold && d.Reason != ReasonQuorumNotReached {
					return false
				}
				if total >= threshold && d.Reason != ReasonRejectedByVote {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}

// Property: strict majority and byzantine bounds hold for any cluster size.
func TestProperty_QuorumBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("majority is the least count covering half", prop.ForAll(
		func(n int) bool {
			m := majority(n)
			return 2*m >= n && 2*(m-1) < n
		},
		gen.IntRange(1, 1000),
	))

	properties.Property("byzantine quorum outnumbers faulty plus split", prop.ForAll(
		func(n int) bool {
			f := byzantineFaultBound(n)
			// n-f honest acknowledgements always beat f traitors plus
			// any f honest nodes they could sway.
			return n-f > 2*f
		},
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}
