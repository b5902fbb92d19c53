package replication

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redis/internal/protocol"
)

func TestNewPrimaryGeneratesFortyHexCharID(t *testing.T) {
	m := NewPrimary()
	id := m.ReplicationID()
	assert.Len(t, id, 40)
	for _, c := range id {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}
}

func TestInfoReflectsRole(t *testing.T) {
	primary := NewPrimary()
	info := primary.Info()
	assert.Equal(t, RolePrimary, info.Role)
	assert.Equal(t, primary.ReplicationID(), info.ReplicationID)

	replica := NewReplica("127.0.0.1", 6379)
	info = replica.Info()
	assert.Equal(t, RoleReplica, info.Role)
}

func TestPropagateAdvancesOffsetOnce(t *testing.T) {
	m := NewPrimary()
	c1, s1 := net.Pipe()
	c2, s2 := net.Pipe()
	defer s1.Close()
	defer s2.Close()

	m.RegisterReplica("r1", s1, 7001)
	m.RegisterReplica("r2", s2, 7002)

	go drain(c1)
	go drain(c2)

	encoded := protocol.EncodeCommand("SET", "k", "v")
	m.Propagate(encoded)

	assert.Equal(t, uint64(len(encoded)), m.PrimaryOffset())
}

func TestPropagateDropsReplicaOnWriteFailure(t *testing.T) {
	m := NewPrimary()
	_, s := net.Pipe()
	s.Close() // closed connection: writes will fail

	m.RegisterReplica("dead", s, 7001)
	m.Propagate(protocol.EncodeCommand("SET", "k", "v"))

	assert.Equal(t, 0, m.Info().ConnectedReplicas)
}

func TestAdvanceReplicaOffsetAccumulates(t *testing.T) {
	m := NewReplica("127.0.0.1", 6379)
	m.AdvanceReplicaOffset(10)
	m.AdvanceReplicaOffset(5)
	assert.Equal(t, uint64(15), m.ReplicaOffset())
}

func TestConnectAndHandshakeDrivesFourSteps(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	m := NewReplica("127.0.0.1", addr.Port)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, aerr := ln.Accept()
		require.NoError(t, aerr)
		accepted <- conn
	}()

	done := make(chan error, 1)
	go func() {
		_, herr := m.ConnectAndHandshake(9999)
		done <- herr
	}()

	primaryConn := <-accepted
	defer primaryConn.Close()

	expectStep(t, primaryConn, []string{"PING"}, protocol.NewSimpleString("PONG"))
	expectStep(t, primaryConn, []string{"REPLCONF", "listening-port", "9999"}, protocol.NewSimpleString("OK"))
	expectStep(t, primaryConn, []string{"REPLCONF", "capa", "psync2"}, protocol.NewSimpleString("OK"))

	dec := &protocol.Decoder{}
	args := readArgs(t, primaryConn, dec)
	assert.Equal(t, []string{"PSYNC", "?", "-1"}, args)

	blob := SnapshotBlob()
	primaryConn.Write([]byte("+FULLRESYNC abc123 0\r\n"))
	primaryConn.Write([]byte(fmt.Sprintf("$%d\r\n", len(blob))))
	primaryConn.Write(blob)

	require.NoError(t, <-done)
	assert.True(t, m.replica.handshakeComplete)
}

func expectStep(t *testing.T, conn net.Conn, wantArgs []string, reply protocol.Frame) {
	t.Helper()
	dec := &protocol.Decoder{}
	args := readArgs(t, conn, dec)
	assert.Equal(t, wantArgs, args)
	conn.Write(protocol.Encode(reply))
}

func readArgs(t *testing.T, conn net.Conn, dec *protocol.Decoder) []string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		frames, derr := dec.Feed(buf[:n])
		require.NoError(t, derr)
		if len(frames) > 0 {
			args, err := frames[0].Args()
			require.NoError(t, err)
			out := make([]string, len(args))
			for i, a := range args {
				out[i] = string(a)
			}
			return out
		}
	}
}

func drain(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
