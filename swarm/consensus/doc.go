// Package consensus decides proposals on behalf of the swarm behind one
// uniform contract: Propose submits a payload and returns a structured
// decision. Four algorithms are available: leader-based log replication
// (raft style), two-phase quorum (paxos style), byzantine three-phase (pbft
// style) and simple quorum voting.
//
// Vote outcomes and phase acknowledgements come from an injected
// VotingOracle, so production code can supply real ballots while tests run
// deterministic scripts. A proposal that fails its quorum is rejected with a
// machine-readable reason and never retried automatically.
package consensus
