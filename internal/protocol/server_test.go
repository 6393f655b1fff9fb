package protocol

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvstore/internal/cluster"
	"kvstore/internal/role"
	"kvstore/internal/store"
)

func newTestServer(t *testing.T, nodeID int) (net.Listener, *Server) {
	t.Helper()
	engine, err := store.Open(store.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	roleMgr := role.New(nodeID, role.Callbacks{})
	srv := NewServer(engine, roleMgr, nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return ln, srv
}

func roundTrip(t *testing.T, addr, line string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	resp, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return resp
}

func TestServerSetThenGet(t *testing.T) {
	ln, _ := newTestServer(t, 0)
	addr := ln.Addr().String()

	resp := roundTrip(t, addr, `{"method":"set","key":"k","value":"v"}`)
	assert.Contains(t, resp, `"ok":true`)

	resp = roundTrip(t, addr, `{"method":"get","key":"k"}`)
	assert.Contains(t, resp, `"value":"v"`)
}

func TestServerGetMissingKeyOmitsValueField(t *testing.T) {
	ln, _ := newTestServer(t, 0)
	addr := ln.Addr().String()

	resp := roundTrip(t, addr, `{"method":"get","key":"absent"}`)
	assert.Contains(t, resp, `"ok":true`)
	assert.NotContains(t, resp, `"value"`)
}

func TestServerGetWithoutKeyIsMissingKey(t *testing.T) {
	ln, _ := newTestServer(t, 0)
	addr := ln.Addr().String()

	resp := roundTrip(t, addr, `{"method":"get"}`)
	assert.Contains(t, resp, `"error":"missing key"`)
}

func TestServerSetOnSecondaryIsRejected(t *testing.T) {
	ln, _ := newTestServer(t, 1) // node 1 starts secondary
	addr := ln.Addr().String()

	resp := roundTrip(t, addr, `{"method":"set","key":"k","value":"v"}`)
	assert.Contains(t, resp, `"error":"not primary"`)
}

func TestServerUnknownMethod(t *testing.T) {
	ln, _ := newTestServer(t, 0)
	addr := ln.Addr().String()

	resp := roundTrip(t, addr, `{"method":"frobnicate"}`)
	assert.Contains(t, resp, `"error":"unknown method: frobnicate"`)
}

func TestServerInvalidRequestLine(t *testing.T) {
	ln, _ := newTestServer(t, 0)
	addr := ln.Addr().String()

	resp := roundTrip(t, addr, `not json at all`)
	assert.Contains(t, resp, `"error":"invalid request"`)
}

func TestServerRoleReportsNodeID(t *testing.T) {
	ln, _ := newTestServer(t, 3)
	addr := ln.Addr().String()

	resp := roundTrip(t, addr, `{"method":"role"}`)
	assert.Contains(t, resp, `"node_id":3`)
	assert.Contains(t, resp, `"primary":false`)
}

func TestServerSearchOnDisabledIndexReturnsEmptyList(t *testing.T) {
	ln, _ := newTestServer(t, 0)
	addr := ln.Addr().String()

	resp := roundTrip(t, addr, `{"method":"search","query":"anything"}`)
	assert.Contains(t, resp, `"ok":true`)
	assert.Contains(t, resp, `"value":[]`)
}

func TestServerBulkSetAppliesAllPairs(t *testing.T) {
	ln, _ := newTestServer(t, 0)
	addr := ln.Addr().String()

	resp := roundTrip(t, addr, `{"method":"bulk_set","items":[["a",1],["b",2]]}`)
	assert.Contains(t, resp, `"ok":true`)

	resp = roundTrip(t, addr, `{"method":"get","key":"a"}`)
	assert.Contains(t, resp, `"value":1`)
	resp = roundTrip(t, addr, `{"method":"get","key":"b"}`)
	assert.Contains(t, resp, `"value":2`)
}

func TestServerEmptyBulkSetDoesNotBroadcast(t *testing.T) {
	ln, srv := newTestServer(t, 0)
	addr := ln.Addr().String()

	peerLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peerLn.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := peerLn.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ob := cluster.NewOutbound([]string{peerLn.Addr().String()})
	defer ob.Close()
	require.Equal(t, 1, ob.LiveCount())
	srv.SetOutbound(ob)
	peerConn := <-accepted
	defer peerConn.Close()

	resp := roundTrip(t, addr, `{"method":"bulk_set","items":[]}`)
	assert.Contains(t, resp, `"ok":true`)

	// A non-empty bulk_set right after it must be the only thing the peer
	// ever receives: if the empty one had broadcast, this read would return
	// the phantom entry first.
	resp = roundTrip(t, addr, `{"method":"bulk_set","items":[["a",1]]}`)
	assert.Contains(t, resp, `"ok":true`)

	peerConn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(peerConn).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"items":[["a",1]]`)
	assert.NotContains(t, line, `"op":"bulk","items":[]`)
}
