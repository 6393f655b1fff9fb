// Package cluster implements the replication and role-discovery subsystem:
// primary-to-secondary log streaming (Outbound/Inbound), and the
// lowest-id-wins failover election (Election). Spec section 4.5-4.7.
package cluster

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ApplyMode selects whether an inbound-applied entry is also appended to
// the local WAL, per the topology rationale in spec section 4.6.
type ApplyMode int

const (
	// ApplyNoWAL is used in primary/secondary topology: the primary owns
	// the authoritative log; the secondary only mirrors in-memory state
	// until it is promoted.
	ApplyNoWAL ApplyMode = iota
	// ApplyWithWAL is used in masterless topology: every node is
	// authoritative for its own durability.
	ApplyWithWAL
)

// roleProbeRequest/roleProbeResponse are the minimal wire shapes the
// election loop needs; they mirror protocol.Request/protocol.Response for
// the single "role" method without creating an import cycle between
// internal/cluster and internal/protocol.
type roleProbeResponse struct {
	OK        bool `json:"ok"`
	IsPrimary bool `json:"primary"`
	NodeID    int  `json:"node_id"`
}
