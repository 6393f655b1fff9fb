package protocol

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"kvstore/internal/cluster"
	"kvstore/internal/metrics"
	"kvstore/internal/role"
	"kvstore/internal/store"
)

// Server is the per-connection TCP request handler: it decodes one request
// per line, dispatches it to the engine or role manager, and writes back one
// response per line (spec section 6). Connections are independent and
// requests on a single connection are handled in order.
type Server struct {
	engine   *store.Engine
	roleMgr  *role.Manager
	outbound *cluster.Outbound // nil on nodes that never act as primary (standalone/secondary-only wiring owns its own swap)
	metrics  *metrics.Metrics  // nil disables instrumentation

	mu sync.Mutex // guards outbound swap on promotion
}

// NewServer wires a request dispatcher around engine and roleMgr. outbound
// may be nil initially and set later via SetOutbound once a promotion
// starts broadcasting (role.Callbacks.OnPromote). m may be nil.
func NewServer(engine *store.Engine, roleMgr *role.Manager, outbound *cluster.Outbound, m *metrics.Metrics) *Server {
	return &Server{engine: engine, roleMgr: roleMgr, outbound: outbound, metrics: m}
}

// SetOutbound installs the broadcaster used after a promotion. Safe to call
// concurrently with request handling.
func (s *Server) SetOutbound(outbound *cluster.Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound = outbound
}

func (s *Server) currentOutbound() *cluster.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbound
}

// Serve accepts connections on ln until it is closed, spawning one goroutine
// per connection (spec section 5: "a per-connection worker per accepted TCP
// connection"). There is no server-side read deadline; a connection blocks
// until its client closes it.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out := s.dispatch(line)
		if _, err := writer.Write(out); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

// dispatch decodes one request line and routes it to the matching handler,
// returning the encoded response line. Panics recovered here surface as the
// generic error kind (spec section 7: "uncaught per-request exception
// returns {ok:false, error:<message>}; the connection stays open").
func (s *Server) dispatch(line []byte) []byte {
	req, err := decodeRequest(line)
	if err != nil {
		s.observe("invalid", ErrInvalidReq)
		return mustEncode(errResponse(ErrInvalidReq))
	}

	return s.handleSafely(req)
}

func (s *Server) handleSafely(req Request) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%v", r)
			s.observe(req.Method, msg)
			out = mustEncode(errResponse(msg))
		}
	}()

	switch req.Method {
	case "get":
		return s.handleGet(req)
	case "set":
		return s.handleSet(req)
	case "delete":
		return s.handleDelete(req)
	case "bulk_set":
		return s.handleBulkSet(req)
	case "search":
		return s.handleSearch(req)
	case "search_similar":
		return s.handleSearchSimilar(req)
	case "role":
		return s.handleRole(req)
	default:
		outcome := fmt.Sprintf(errUnknownFmt, req.Method)
		s.observe(req.Method, outcome)
		return mustEncode(errResponse(outcome))
	}
}

func (s *Server) observe(method, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveRequest(method, outcome)
	}
}

func (s *Server) handleGet(req Request) []byte {
	if !req.hasKey {
		s.observe("get", ErrMissingKey)
		return mustEncode(errResponse(ErrMissingKey))
	}
	value, found := s.engine.Get(req.Key)
	data, err := encodeGetResponse(found, value)
	if err != nil {
		s.observe("get", err.Error())
		return mustEncode(errResponse(err.Error()))
	}
	s.observe("get", "ok")
	return data
}

func (s *Server) handleSet(req Request) []byte {
	if !req.hasKey {
		s.observe("set", ErrMissingKey)
		return mustEncode(errResponse(ErrMissingKey))
	}
	if !s.roleMgr.IsPrimary() {
		s.observe("set", ErrNotPrimary)
		return mustEncode(errResponse(ErrNotPrimary))
	}
	if err := s.engine.Set(req.Key, req.Value, req.DebugSimulateFail); err != nil {
		s.observe("set", err.Error())
		return mustEncode(errResponse(err.Error()))
	}
	s.broadcastSet(req.Key, req.Value)
	s.observe("set", "ok")
	return mustEncode(okResponse(nil))
}

func (s *Server) handleDelete(req Request) []byte {
	if !req.hasKey {
		s.observe("delete", ErrMissingKey)
		return mustEncode(errResponse(ErrMissingKey))
	}
	if !s.roleMgr.IsPrimary() {
		s.observe("delete", ErrNotPrimary)
		return mustEncode(errResponse(ErrNotPrimary))
	}
	if err := s.engine.Delete(req.Key, req.DebugSimulateFail); err != nil {
		s.observe("delete", err.Error())
		return mustEncode(errResponse(err.Error()))
	}
	s.broadcastDelete(req.Key)
	s.observe("delete", "ok")
	return mustEncode(okResponse(nil))
}

func (s *Server) handleBulkSet(req Request) []byte {
	if !s.roleMgr.IsPrimary() {
		s.observe("bulk_set", ErrNotPrimary)
		return mustEncode(errResponse(ErrNotPrimary))
	}
	items := make([]store.KV, len(req.Items))
	for i, p := range req.Items {
		items[i] = store.KV{Key: p.Key, Value: p.Value}
	}
	if err := s.engine.BulkSet(items, req.DebugSimulateFail); err != nil {
		s.observe("bulk_set", err.Error())
		return mustEncode(errResponse(err.Error()))
	}
	if len(items) > 0 {
		s.broadcastBulk(items)
	}
	s.observe("bulk_set", "ok")
	return mustEncode(okResponse(nil))
}

func (s *Server) handleSearch(req Request) []byte {
	keys := s.engine.SearchFullText(req.Query)
	if keys == nil {
		keys = []string{}
	}
	s.observe("search", "ok")
	return mustEncode(okResponse(keys))
}

func (s *Server) handleSearchSimilar(req Request) []byte {
	topK := req.TopK
	results := s.engine.SearchSimilar(req.Query, topK)
	pairs := make([][2]any, len(results))
	for i, r := range results {
		pairs[i] = [2]any{r.Key, r.Score}
	}
	value := any(pairs)
	if len(pairs) == 0 {
		value = []any{}
	}
	s.observe("search_similar", "ok")
	return mustEncode(okResponse(value))
}

func (s *Server) handleRole(req Request) []byte {
	r := s.roleMgr.Role()
	// Encoded through a map so "primary":false and "node_id":0 are still
	// written; Response's omitempty tags would drop them.
	data, err := json.Marshal(map[string]any{"ok": true, "primary": r.IsPrimary, "node_id": r.NodeID})
	if err != nil {
		s.observe("role", err.Error())
		return mustEncode(errResponse(err.Error()))
	}
	s.observe("role", "ok")
	return append(data, '\n')
}

// broadcastSet/broadcastDelete/broadcastBulk mirror the just-applied local
// mutation to peers, outside the engine's lock (spec section 5: "broadcast
// occurs outside engine_lock once the local apply is durable"). No-op when
// this node has no live outbound broadcaster (secondary, or primary with no
// peers configured).
func (s *Server) broadcastSet(key string, value any) {
	if ob := s.currentOutbound(); ob != nil {
		ob.Broadcast(store.NewSetEntry(key, value))
	}
}

func (s *Server) broadcastDelete(key string) {
	if ob := s.currentOutbound(); ob != nil {
		ob.Broadcast(store.NewDeleteEntry(key))
	}
}

func (s *Server) broadcastBulk(items []store.KV) {
	if ob := s.currentOutbound(); ob != nil {
		ob.Broadcast(store.NewBulkEntry(items))
	}
}

func mustEncode(resp Response) []byte {
	data, err := encodeResponse(resp)
	if err != nil {
		// Response itself failed to encode; fall back to a literal the
		// client can still parse as a generic failure.
		return []byte(`{"ok":false,"error":"internal encode failure"}` + "\n")
	}
	return data
}
