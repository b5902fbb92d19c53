package handler

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"

	"redis/internal/protocol"
	"redis/internal/replication"
)

func (h *CommandHandler) handleInfo(args [][]byte) protocol.Frame {
	if len(args) > 0 && !strings.EqualFold(string(args[0]), "replication") {
		return protocol.NewBulkString(nil)
	}

	info := h.replMgr.Info()
	var b strings.Builder
	if info.Role == replication.RolePrimary {
		b.WriteString("role:master\n")
		b.WriteString(fmt.Sprintf("master_replid:%s\n", info.ReplicationID))
		b.WriteString(fmt.Sprintf("master_repl_offset:%d\n", info.Offset))
	} else {
		b.WriteString("role:slave\n")
	}
	return protocol.NewBulkString([]byte(b.String()))
}

// handleReplConf handles the REPLCONF sub-commands: listening-port
// (replied OK; the port is stashed as pending for this connection, and
// PSYNC is what turns a pending port into a registered replica), capa
// (replied OK, otherwise a no-op), getack (replied with this
// process's own applied/propagated offset, supported bidirectionally
// per the handshake contract), and ack (recorded against the registry,
// no reply, it's one-way).
func (h *CommandHandler) handleReplConf(conn net.Conn, args [][]byte) protocol.Frame {
	if len(args) < 2 {
		return protocol.NewError("Unexpected data type")
	}

	sub := strings.ToLower(string(args[0]))
	switch sub {
	case "listening-port":
		port, err := strconv.Atoi(string(args[1]))
		if err != nil {
			return protocol.NewError("Unexpected data type")
		}
		h.pendingMu.Lock()
		h.pendingPorts[conn.RemoteAddr().String()] = port
		h.pendingMu.Unlock()
		return protocol.NewSimpleString("OK")

	case "capa":
		return protocol.NewSimpleString("OK")

	case "getack":
		offset := h.replMgr.PrimaryOffset()
		if h.replMgr.Role() == replication.RoleReplica {
			offset = h.replMgr.ReplicaOffset()
		}
		reply := protocol.NewArray([]protocol.Frame{
			protocol.NewBulkString([]byte("REPLCONF")),
			protocol.NewBulkString([]byte("ACK")),
			protocol.NewBulkString([]byte(strconv.FormatUint(offset, 10))),
		})
		conn.Write(protocol.Encode(reply))
		return noReply

	case "ack":
		offset, err := strconv.ParseUint(string(args[1]), 10, 64)
		if err == nil {
			h.replMgr.UpdateReplicaAck(replicaID(conn, h), offset)
		}
		return noReply

	default:
		return protocol.NewError(fmt.Sprintf("unknown REPLCONF option '%s'", sub))
	}
}

// handlePSync answers PSYNC directly on conn: a SimpleString FULLRESYNC
// line, then the inline bulk snapshot, then registration of conn as a
// replica socket. None of this fits the regular Frame reply shape, so it
// writes straight to conn rather than returning through Dispatch.
func (h *CommandHandler) handlePSync(conn net.Conn, args [][]byte) {
	if h.replMgr.Role() != replication.RolePrimary {
		conn.Write(protocol.Encode(protocol.NewError("ReplicationMisuse: PSYNC sent to a replica")))
		return
	}
	if len(args) != 2 {
		conn.Write(protocol.Encode(protocol.NewError("Unexpected data type")))
		return
	}

	replID := h.replMgr.ReplicationID()
	offset := h.replMgr.PrimaryOffset()

	line := fmt.Sprintf("+FULLRESYNC %s %d\r\n", replID, offset)
	if _, err := conn.Write([]byte(line)); err != nil {
		log.Printf("[REPLICATION] PSYNC write failed: %v", err)
		return
	}

	blob := replication.SnapshotBlob()
	header := fmt.Sprintf("$%d\r\n", len(blob))
	if _, err := conn.Write([]byte(header)); err != nil {
		log.Printf("[REPLICATION] PSYNC snapshot header write failed: %v", err)
		return
	}
	if _, err := conn.Write(blob); err != nil {
		log.Printf("[REPLICATION] PSYNC snapshot write failed: %v", err)
		return
	}

	id, port := h.takePendingPort(conn)
	h.replMgr.RegisterReplica(id, conn, port)
	log.Printf("[REPLICATION] PSYNC complete, replica registered: %s", id)
}

// takePendingPort consumes the announced listening port stashed by an
// earlier REPLCONF listening-port on this connection, derives the
// registry key from it (host from the socket, port from the
// announcement; the raw remote address if none was announced), and
// remembers that key for later lookups by replicaID (e.g. REPLCONF ACK
// arriving on the same connection after registration).
func (h *CommandHandler) takePendingPort(conn net.Conn) (id string, port int) {
	addr := conn.RemoteAddr().String()
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	port, ok := h.pendingPorts[addr]
	if ok {
		delete(h.pendingPorts, addr)
	}
	if !ok {
		id = addr
	} else {
		id = fmt.Sprintf("%s:%d", hostOnly(addr), port)
	}
	h.replicaIDs[addr] = id
	return id, port
}

// ApplyReplicated executes one command read from the primary's
// replication stream. It never writes a client-facing reply itself:
// REPLCONF GETACK is the one exception the protocol requires an ACK
// for, and its encoded bytes are returned to the caller (the replica
// read loop) to write back on the same socket.
func (h *CommandHandler) ApplyReplicated(args [][]byte) []byte {
	if len(args) == 0 {
		return nil
	}
	name := strings.ToUpper(string(args[0]))
	switch name {
	case "SET":
		h.handleSet(args[1:])
	case "XADD":
		h.handleXAdd(args[1:])
	case "REPLCONF":
		if len(args) >= 2 && strings.EqualFold(string(args[1]), "GETACK") {
			offset := h.replMgr.ReplicaOffset()
			return protocol.Encode(protocol.NewArray([]protocol.Frame{
				protocol.NewBulkString([]byte("REPLCONF")),
				protocol.NewBulkString([]byte("ACK")),
				protocol.NewBulkString([]byte(strconv.FormatUint(offset, 10))),
			}))
		}
	}
	return nil
}

// replicaID identifies the replica a REPLCONF ACK arrived from.
func replicaID(conn net.Conn, h *CommandHandler) string {
	addr := conn.RemoteAddr().String()
	h.pendingMu.Lock()
	id, ok := h.replicaIDs[addr]
	h.pendingMu.Unlock()
	if !ok {
		return addr
	}
	return id
}
