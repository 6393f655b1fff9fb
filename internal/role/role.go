// Package role tracks whether a cluster node is primary or secondary.
// Promotion is monotonic within a process lifetime: secondary -> primary
// only, never the reverse (spec section 4.4, invariant I5).
package role

import "sync"

// Role is a point-in-time snapshot of a node's role state.
type Role struct {
	IsPrimary bool
	NodeID    int
}

// Callbacks are invoked exactly once, synchronously, the moment a node is
// promoted. They let the cluster package wire inbound/outbound replication
// without the role manager importing transport code.
type Callbacks struct {
	OnPromote func()
}

// Manager is the single source of truth for a node's role. It is guarded by
// its own lock (roleLock), independent of the storage engine's lock, so a
// mutating request handler can check role before ever touching the engine
// (spec section 5).
type Manager struct {
	mu        sync.Mutex
	isPrimary bool
	nodeID    int
	callbacks Callbacks
	promoted  bool
}

// New creates a Manager for nodeID. Per spec section 4.4, a node starts
// primary iff its id is 0.
func New(nodeID int, callbacks Callbacks) *Manager {
	return &Manager{
		isPrimary: nodeID == 0,
		nodeID:    nodeID,
		callbacks: callbacks,
	}
}

// Role returns the current role. Non-blocking and never fails.
func (m *Manager) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Role{IsPrimary: m.isPrimary, NodeID: m.nodeID}
}

// IsPrimary is a convenience accessor equivalent to Role().IsPrimary.
func (m *Manager) IsPrimary() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isPrimary
}

// NodeID returns this node's identifier.
func (m *Manager) NodeID() int {
	return m.nodeID
}

// Promote transitions this node to primary. Idempotent: calling it again
// after promotion is a no-op. It is irreversible within the process — once
// isPrimary is true it is never cleared (invariant I5). On the first call it
// invokes OnPromote synchronously, before releasing the lock, so callers
// that probe Role() immediately afterward always see the post-promotion
// state.
func (m *Manager) Promote() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.promoted {
		return
	}
	m.promoted = true
	m.isPrimary = true
	if m.callbacks.OnPromote != nil {
		m.callbacks.OnPromote()
	}
}
