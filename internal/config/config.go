// Package config defines the node configuration surface: everything the
// command-line surface in spec section 6 treats as an input, plus an
// optional YAML file so a deployment can check a config file into its repo
// instead of assembling one giant flag line (spec section 6.3 addition).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Peer is one other node's pair of addresses, used by cluster topologies.
type Peer struct {
	ClientAddr      string `yaml:"client_addr"`
	ReplicationAddr string `yaml:"replication_addr"`
}

// Topology selects how a node participates in replication.
type Topology string

const (
	// Standalone runs a single node with no replication at all.
	Standalone Topology = "standalone"
	// PrimarySecondary runs primary/secondary replication with failover
	// election among secondaries (spec section 4.5-4.7).
	PrimarySecondary Topology = "primary-secondary"
	// Masterless runs last-writer-wins replication with no election
	// (spec section 4.6, masterless branch).
	Masterless Topology = "masterless"
)

// Config is the fully-resolved configuration for one node process.
type Config struct {
	NodeID    int    `yaml:"node_id"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AdminAddr string `yaml:"admin_addr"`

	DataDir string `yaml:"data_dir"`

	Topology        Topology `yaml:"topology"`
	ReplicationAddr string   `yaml:"replication_addr"`
	Peers           []Peer   `yaml:"peers"`

	DebugFailChance float64 `yaml:"debug_fail_chance"`
	EnableIndexes   bool    `yaml:"enable_indexes"`
	SimilarityDim   int     `yaml:"similarity_dim"`

	SnapshotInterval int `yaml:"snapshot_interval_seconds"`
}

// ClientAddr is the address clients dial to reach this node's TCP protocol
// port.
func (c Config) ClientAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads and parses a YAML config file. Any flag the caller also sets
// on the command line should be applied on top of the result by the caller
// (flags win over file).
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// PeerClientAddrs extracts just the client addresses, used by the election
// loop's role probes.
func PeerClientAddrs(peers []Peer) []string {
	addrs := make([]string, len(peers))
	for i, p := range peers {
		addrs[i] = p.ClientAddr
	}
	return addrs
}

// PeerReplicationAddrs extracts just the replication addresses, used by the
// outbound broadcaster.
func PeerReplicationAddrs(peers []Peer) []string {
	addrs := make([]string, len(peers))
	for i, p := range peers {
		addrs[i] = p.ReplicationAddr
	}
	return addrs
}
