package cluster

import (
	"net"
	"sync"
	"time"

	"kvstore/internal/store"
)

const outboundDialTimeout = 2 * time.Second

// Outbound maintains a live set of TCP connections to peer inbound-
// replication endpoints and broadcasts applied log entries to all of them
// (spec section 4.5). There is deliberately no reconnection logic: a peer
// that drops out is lost for this process's lifetime (spec section 9, open
// question (a)).
type Outbound struct {
	mu    sync.Mutex
	conns []net.Conn
}

// NewOutbound dials every address in peerAddrs with a bounded timeout.
// Peers that fail to dial are simply absent from the live set; dialing
// continues for the rest.
func NewOutbound(peerAddrs []string) *Outbound {
	o := &Outbound{}
	for _, addr := range peerAddrs {
		conn, err := net.DialTimeout("tcp", addr, outboundDialTimeout)
		if err != nil {
			continue
		}
		o.conns = append(o.conns, conn)
	}
	return o
}

// Broadcast serializes entry with the shared log codec and writes it to
// every live connection. A write failure closes and drops that connection;
// other peers still receive the entry. Broadcast never blocks waiting for a
// peer to acknowledge (spec section 4.5) — it only blocks on the local
// socket write buffer.
func (o *Outbound) Broadcast(entry store.LogEntry) {
	line, err := entryToLine(entry)
	if err != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	live := o.conns[:0]
	for _, conn := range o.conns {
		if _, err := conn.Write(line); err != nil {
			conn.Close()
			continue
		}
		live = append(live, conn)
	}
	o.conns = live
}

// LiveCount reports how many peer connections are currently open.
func (o *Outbound) LiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conns)
}

// Close drops every live connection.
func (o *Outbound) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, conn := range o.conns {
		conn.Close()
	}
	o.conns = nil
}

func entryToLine(entry store.LogEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
