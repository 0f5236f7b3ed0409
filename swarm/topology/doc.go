// Package topology maintains the swarm's agent roster and the rules that
// depend on organizational shape: hierarchical (queen-led), mesh (full peer
// adjacency), adaptive (metric-driven switching), and byzantine (fault
// bounds, checkpoints, quarantine). It also distributes tasks across active
// agents by balanced, capability, or priority strategy.
package topology
