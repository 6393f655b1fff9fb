package cluster

import (
	"bufio"
	"net"
	"sync"
	"time"

	"kvstore/internal/store"
)

const inboundAcceptPoll = 500 * time.Millisecond

// Inbound listens on a dedicated replication port and applies incoming log
// entries to the local engine (spec section 4.6). Malformed or truncated
// lines terminate the current session only; the listener keeps accepting
// new ones.
type Inbound struct {
	listener net.Listener
	engine   *store.Engine
	mode     ApplyMode

	stop chan struct{}
	wg   sync.WaitGroup
}

// ListenInbound binds addr and starts accepting replication connections in
// the background. Call Stop to shut it down.
func ListenInbound(addr string, engine *store.Engine, mode ApplyMode) (*Inbound, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	in := &Inbound{
		listener: ln,
		engine:   engine,
		mode:     mode,
		stop:     make(chan struct{}),
	}
	in.wg.Add(1)
	go in.acceptLoop()
	return in, nil
}

// acceptLoop polls Accept with a short deadline so Stop can be observed
// promptly (spec section 5: "accept loops poll with a 0.5s timeout").
func (in *Inbound) acceptLoop() {
	defer in.wg.Done()

	for {
		select {
		case <-in.stop:
			return
		default:
		}

		if tl, ok := in.listener.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(inboundAcceptPoll))
		}
		conn, err := in.listener.Accept()
		if err != nil {
			continue
		}

		in.wg.Add(1)
		go func() {
			defer in.wg.Done()
			in.handle(conn)
		}()
	}
}

// handle reads one log entry per line from conn and applies each to the
// local engine until the connection closes or a line fails to parse.
func (in *Inbound) handle(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case <-in.stop:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry store.LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return
		}
		_ = in.engine.ApplyReplicated(entry, in.mode == ApplyWithWAL)
	}
}

// Stop halts the accept loop and closes the listener, then waits for every
// in-flight session to return.
func (in *Inbound) Stop() {
	close(in.stop)
	in.listener.Close()
	in.wg.Wait()
}
