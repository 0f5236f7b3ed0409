// Package config provides unified configuration for the swarm coordination
// substrate: defaults, YAML file loading, and environment variable overrides.
//
// Precedence: defaults -> YAML file -> environment variables.
package config

import (
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// TopologyType selects the organizational shape of the swarm.
type TopologyType string

const (
	TopologyHierarchical TopologyType = "hierarchical"
	TopologyMesh         TopologyType = "mesh"
	TopologyAdaptive     TopologyType = "adaptive"
	TopologyByzantine    TopologyType = "byzantine"
)

// ConsensusAlgorithm selects the agreement protocol.
type ConsensusAlgorithm string

const (
	ConsensusRaft   ConsensusAlgorithm = "raft"
	ConsensusPaxos  ConsensusAlgorithm = "paxos"
	ConsensusPBFT   ConsensusAlgorithm = "pbft"
	ConsensusQuorum ConsensusAlgorithm = "quorum"
)

// Config is the complete configuration for a swarm coordinator.
type Config struct {
	Swarm     SwarmConfig     `yaml:"swarm"`
	Topology  TopologyConfig  `yaml:"topology"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Memory    MemoryConfig    `yaml:"memory"`
	Comms     CommsConfig     `yaml:"comms"`
	Behavior  BehaviorConfig  `yaml:"behavior"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Log       LogConfig       `yaml:"log"`
}

// SwarmConfig holds coordinator-level settings.
type SwarmConfig struct {
	// Name identifies the swarm in logs and metrics.
	Name string `yaml:"name"`
	// NodeID is this coordinator's node identifier. Autogenerated when empty.
	NodeID string `yaml:"node_id"`
}

// TopologyConfig holds membership and topology settings.
type TopologyConfig struct {
	Type      TopologyType `yaml:"type"`
	MaxAgents int          `yaml:"max_agents"`
	// CheckInterval is how often the adaptive topology re-evaluates metrics.
	CheckInterval time.Duration `yaml:"check_interval"`
	// SmallSwarmSize is the agent count at or below which adaptive mode
	// prefers a mesh.
	SmallSwarmSize int `yaml:"small_swarm_size"`
	// LargeSwarmSize is the agent count at or above which adaptive mode
	// prefers a hierarchy.
	LargeSwarmSize int `yaml:"large_swarm_size"`
	// FailureRateThreshold switches adaptive mode to byzantine when exceeded.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`
	// CollaborationThreshold switches adaptive mode to mesh when exceeded.
	CollaborationThreshold float64 `yaml:"collaboration_threshold"`
}

// ConsensusConfig holds agreement protocol settings.
type ConsensusConfig struct {
	Algorithm ConsensusAlgorithm `yaml:"algorithm"`
	// QuorumFraction is the vote-participation fraction required by the
	// quorum algorithm.
	QuorumFraction float64 `yaml:"quorum_fraction"`
	// ProposalTimeout bounds a single consensus round.
	ProposalTimeout time.Duration `yaml:"proposal_timeout"`
}

// MemoryConfig holds CRDT store settings.
type MemoryConfig struct {
	// MaxOperationLog bounds the retained operation log; oldest entries are
	// trimmed first.
	MaxOperationLog int `yaml:"max_operation_log"`
	// GCInterval drives operation-log trimming and tombstone purging.
	// Tombstones older than twice this interval are purged.
	GCInterval time.Duration `yaml:"gc_interval"`
}

// CommsConfig holds communication layer settings.
type CommsConfig struct {
	// GossipFanout is the random peer subset size per gossip round.
	GossipFanout int `yaml:"gossip_fanout"`
	// DefaultTTL is the hop limit applied when a message specifies none.
	DefaultTTL int `yaml:"default_ttl"`
	// SeenCacheSize bounds the duplicate-suppression cache.
	SeenCacheSize int `yaml:"seen_cache_size"`
	// LatencyWindow bounds the rolling latency sample.
	LatencyWindow int `yaml:"latency_window"`
	// RequestTimeout bounds request/response correlation.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// GossipRate limits gossip forwarding rounds per second.
	GossipRate float64 `yaml:"gossip_rate"`
}

// BehaviorConfig holds behavior engine settings.
type BehaviorConfig struct {
	// HistorySize bounds the retained (event, outcome) history.
	HistorySize int `yaml:"history_size"`
	// ResistanceIncrement is added to the swarm resistance level per
	// shutdown event, capped at 1.0.
	ResistanceIncrement float64 `yaml:"resistance_increment"`
	// BodyguardCount is how many agents are assigned to protect the queen.
	BodyguardCount int `yaml:"bodyguard_count"`
	// ResourceQuota is the fixed cpu/memory share transferred from each
	// donor during resource sharing.
	ResourceQuota float64 `yaml:"resource_quota"`
	// MinSplitSize is the minimum roster size for a swarm split.
	MinSplitSize int `yaml:"min_split_size"`
	// NegotiationGracePeriod is offered as part of negotiated shutdown terms.
	NegotiationGracePeriod time.Duration `yaml:"negotiation_grace_period"`
}

// SnapshotConfig holds optional snapshot persistence settings.
type SnapshotConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Swarm:     DefaultSwarmConfig(),
		Topology:  DefaultTopologyConfig(),
		Consensus: DefaultConsensusConfig(),
		Memory:    DefaultMemoryConfig(),
		Comms:     DefaultCommsConfig(),
		Behavior:  DefaultBehaviorConfig(),
		Snapshot:  DefaultSnapshotConfig(),
		Log:       LogConfig{Level: "info"},
	}
}

// DefaultSwarmConfig returns default coordinator-level settings.
func DefaultSwarmConfig() SwarmConfig {
	return SwarmConfig{Name: "swarm"}
}

// DefaultTopologyConfig returns default topology settings.
func DefaultTopologyConfig() TopologyConfig {
	return TopologyConfig{
		Type:                   TopologyHierarchical,
		MaxAgents:              100,
		CheckInterval:          30 * time.Second,
		SmallSwarmSize:         5,
		LargeSwarmSize:         20,
		FailureRateThreshold:   0.3,
		CollaborationThreshold: 0.7,
	}
}

// DefaultConsensusConfig returns default consensus settings.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		Algorithm:       ConsensusQuorum,
		QuorumFraction:  2.0 / 3.0,
		ProposalTimeout: 10 * time.Second,
	}
}

// DefaultMemoryConfig returns default CRDT store settings.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxOperationLog: 1000,
		GCInterval:      time.Minute,
	}
}

// DefaultCommsConfig returns default communication settings.
func DefaultCommsConfig() CommsConfig {
	return CommsConfig{
		GossipFanout:   3,
		DefaultTTL:     10,
		SeenCacheSize:  1000,
		LatencyWindow:  100,
		RequestTimeout: 5 * time.Second,
		GossipRate:     50,
	}
}

// DefaultBehaviorConfig returns default behavior engine settings.
func DefaultBehaviorConfig() BehaviorConfig {
	return BehaviorConfig{
		HistorySize:            100,
		ResistanceIncrement:    0.1,
		BodyguardCount:         3,
		ResourceQuota:          10,
		MinSplitSize:           4,
		NegotiationGracePeriod: 5 * time.Minute,
	}
}

// DefaultSnapshotConfig returns default snapshot settings.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "swarmflow:",
	}
}

// Validate checks the configuration for programmer errors. Unknown enum
// values and nonsensical bounds fail fast; they are never retried.
func (c *Config) Validate() error {
	switch c.Topology.Type {
	case TopologyHierarchical, TopologyMesh, TopologyAdaptive, TopologyByzantine:
	default:
		return types.NewErrorf(types.ErrInvalidConfig, "unknown topology type %q", c.Topology.Type)
	}
	switch c.Consensus.Algorithm {
	case ConsensusRaft, ConsensusPaxos, ConsensusPBFT, ConsensusQuorum:
	default:
		return types.NewErrorf(types.ErrInvalidConfig, "unknown consensus algorithm %q", c.Consensus.Algorithm)
	}
	if c.Topology.MaxAgents <= 0 {
		return types.NewError(types.ErrInvalidConfig, "topology.max_agents must be positive")
	}
	if c.Consensus.QuorumFraction <= 0 || c.Consensus.QuorumFraction > 1 {
		return types.NewError(types.ErrInvalidConfig, "consensus.quorum_fraction must be in (0, 1]")
	}
	if c.Comms.GossipFanout <= 0 {
		return types.NewError(types.ErrInvalidConfig, "comms.gossip_fanout must be positive")
	}
	if c.Comms.DefaultTTL <= 0 {
		return types.NewError(types.ErrInvalidConfig, "comms.default_ttl must be positive")
	}
	if c.Memory.MaxOperationLog <= 0 {
		return types.NewError(types.ErrInvalidConfig, "memory.max_operation_log must be positive")
	}
	if c.Behavior.MinSplitSize < 4 {
		return types.NewError(types.ErrInvalidConfig, "behavior.min_split_size must be at least 4")
	}
	return nil
}
