package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/swarmflow/types"
)

// Loader loads configuration with defaults, an optional YAML file, and
// environment variable overrides.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("swarm.yaml").
//	    WithEnvPrefix("SWARMFLOW").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a loader with no file and the default env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "SWARMFLOW"}
}

// WithConfigPath sets the YAML file to load.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load builds the final configuration and validates it.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, types.NewErrorf(types.ErrInvalidConfig, "read config file %s", l.configPath).WithCause(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, types.NewErrorf(types.ErrInvalidConfig, "parse config file %s", l.configPath).WithCause(err)
		}
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides scalar fields from environment variables.
func (l *Loader) applyEnv(cfg *Config) {
	if v := l.env("SWARM_NAME"); v != "" {
		cfg.Swarm.Name = v
	}
	if v := l.env("NODE_ID"); v != "" {
		cfg.Swarm.NodeID = v
	}
	if v := l.env("TOPOLOGY"); v != "" {
		cfg.Topology.Type = TopologyType(v)
	}
	if v := l.envInt("MAX_AGENTS"); v > 0 {
		cfg.Topology.MaxAgents = v
	}
	if v := l.env("CONSENSUS"); v != "" {
		cfg.Consensus.Algorithm = ConsensusAlgorithm(v)
	}
	if v := l.envFloat("QUORUM_FRACTION"); v > 0 {
		cfg.Consensus.QuorumFraction = v
	}
	if v := l.envInt("GOSSIP_FANOUT"); v > 0 {
		cfg.Comms.GossipFanout = v
	}
	if v := l.envDuration("GC_INTERVAL"); v > 0 {
		cfg.Memory.GCInterval = v
	}
	if v := l.env("REDIS_ADDR"); v != "" {
		cfg.Snapshot.Enabled = true
		cfg.Snapshot.Addr = v
	}
	if v := l.env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (l *Loader) env(key string) string {
	return strings.TrimSpace(os.Getenv(l.envPrefix + "_" + key))
}

func (l *Loader) envInt(key string) int {
	n, err := strconv.Atoi(l.env(key))
	if err != nil {
		return 0
	}
	return n
}

func (l *Loader) envFloat(key string) float64 {
	f, err := strconv.ParseFloat(l.env(key), 64)
	if err != nil {
		return 0
	}
	return f
}

func (l *Loader) envDuration(key string) time.Duration {
	d, err := time.ParseDuration(l.env(key))
	if err != nil {
		return 0
	}
	return d
}
