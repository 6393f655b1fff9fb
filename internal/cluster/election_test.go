package cluster

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvstore/internal/role"
)

// fakeRoleResponder listens and answers every connection with a fixed role
// probe response, mimicking a peer's "role" method handler without needing
// the full protocol server.
func fakeRoleResponder(t *testing.T, isPrimary bool, nodeID int) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				bufio.NewReader(conn).ReadString('\n')
				resp := []byte(`{"ok":true,"primary":` + boolStr(isPrimary) + `,"node_id":` + intStr(nodeID) + "}\n")
				conn.Write(resp)
			}()
		}
	}()
	return ln.Addr().String()
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func intStr(n int) string {
	digits := []byte{}
	if n == 0 {
		return "0"
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestElectionPromotesWhenNoLowerIDPeerClaimsPrimary(t *testing.T) {
	peerAddr := fakeRoleResponder(t, false, 2)

	roleMgr := role.New(1, role.Callbacks{})
	el := NewElection(roleMgr, []string{peerAddr}, nil)
	el.runRound()

	assert.True(t, roleMgr.IsPrimary())
	assert.Equal(t, Promoted, el.State())
}

func TestElectionAbandonsRoundWhenLowerIDPeerIsPrimary(t *testing.T) {
	peerAddr := fakeRoleResponder(t, true, 0)

	roleMgr := role.New(1, role.Callbacks{})
	el := NewElection(roleMgr, []string{peerAddr}, nil)
	el.runRound()

	assert.False(t, roleMgr.IsPrimary())
	assert.Equal(t, Following, el.State())
}

func TestElectionIgnoresHigherIDPrimaryClaim(t *testing.T) {
	// A higher-id peer claiming primary should not stop this node (lower
	// id) from promoting itself.
	peerAddr := fakeRoleResponder(t, true, 5)

	roleMgr := role.New(1, role.Callbacks{})
	el := NewElection(roleMgr, []string{peerAddr}, nil)
	el.runRound()

	assert.True(t, roleMgr.IsPrimary())
}

func TestElectionTreatsUnreachablePeerAsAbsent(t *testing.T) {
	roleMgr := role.New(1, role.Callbacks{})
	el := NewElection(roleMgr, []string{"127.0.0.1:1"}, nil)
	el.runRound()

	assert.True(t, roleMgr.IsPrimary())
}

func TestElectionStartIsNoOpWhenAlreadyPrimary(t *testing.T) {
	roleMgr := role.New(0, role.Callbacks{})
	el := NewElection(roleMgr, nil, nil)
	el.Start()
	defer el.Stop()

	assert.Eventually(t, func() bool {
		return el.State() == Promoted
	}, time.Second, 10*time.Millisecond)
}
