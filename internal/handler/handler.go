// Package handler wires the command dispatcher: the first element of
// every top-level Array frame names a command, looked up in a map built
// once at construction and applied against the shared stores.
package handler

import (
	"net"
	"strings"
	"sync"

	"redis/internal/protocol"
	"redis/internal/replication"
	"redis/internal/storage"
)

// CommandFunc executes one already-routed command, given its arguments
// (the command name itself excluded) and the connection it arrived on.
// Most handlers ignore conn; REPLCONF needs it to key the pending-port
// table by remote address.
type CommandFunc func(conn net.Conn, args [][]byte) protocol.Frame

// CommandHandler routes frames to handlers and drives propagation to
// replicas on mutating commands.
type CommandHandler struct {
	store      *storage.Store
	streams    *storage.StreamStore
	replMgr    *replication.Manager
	serverPort int
	commands   map[string]CommandFunc

	pendingMu    sync.Mutex
	pendingPorts map[string]int    // keyed by conn.RemoteAddr().String(), cleared once PSYNC registers the replica
	replicaIDs   map[string]string // conn.RemoteAddr().String() -> registry key, set once PSYNC registers the replica
}

func NewCommandHandler(store *storage.Store, streams *storage.StreamStore, replMgr *replication.Manager, serverPort int) *CommandHandler {
	h := &CommandHandler{
		store:        store,
		streams:      streams,
		replMgr:      replMgr,
		serverPort:   serverPort,
		pendingPorts: make(map[string]int),
		replicaIDs:   make(map[string]string),
	}
	h.registerCommands()
	return h
}

func (h *CommandHandler) registerCommands() {
	h.commands = map[string]CommandFunc{
		"PING":     wrap(h.handlePing),
		"ECHO":     wrap(h.handleEcho),
		"SET":      wrap(h.handleSet),
		"GET":      wrap(h.handleGet),
		"TYPE":     wrap(h.handleType),
		"XADD":     wrap(h.handleXAdd),
		"XRANGE":   wrap(h.handleXRange),
		"INFO":     wrap(h.handleInfo),
		"REPLCONF": h.handleReplConf,
	}
}

// wrap adapts a conn-agnostic handler to CommandFunc.
func wrap(fn func(args [][]byte) protocol.Frame) CommandFunc {
	return func(_ net.Conn, args [][]byte) protocol.Frame { return fn(args) }
}

// writeCommands is the set of commands whose effects are propagated to
// attached replicas when this process is acting as a primary.
var writeCommands = map[string]bool{
	"SET":  true,
	"XADD": true,
}

// noReply is a sentinel Frame (a Kind value no encoder case matches) for
// handlers that already wrote their own reply, or none at all. REPLCONF
// ACK is one-way and REPLCONF GETACK writes its ACK reply to conn itself.
var noReply = protocol.Frame{Kind: protocol.Kind(-1)}

// Dispatch executes one top-level frame against conn, writing its reply
// to conn. PSYNC writes its own reply directly (a SimpleString line
// followed by an inline bulk snapshot, not a single Frame) and is
// handled before the regular command map.
func (h *CommandHandler) Dispatch(conn net.Conn, f protocol.Frame) {
	args, err := f.Args()
	if err != nil || len(args) == 0 {
		conn.Write(protocol.Encode(protocol.NewError("Unexpected data type")))
		return
	}

	name := strings.ToUpper(string(args[0]))
	rest := args[1:]

	if name == "PSYNC" {
		h.handlePSync(conn, rest)
		return
	}

	fn, ok := h.commands[name]
	if !ok {
		conn.Write(protocol.Encode(protocol.NewError("Unexpected command")))
		return
	}

	reply := fn(conn, rest)
	if reply.Kind == noReply.Kind {
		return
	}
	conn.Write(protocol.Encode(reply))

	if writeCommands[name] && reply.Kind != protocol.Error && h.replMgr.Role() == replication.RolePrimary {
		h.replMgr.Propagate(protocol.Encode(f))
	}
}

func hostOnly(addr string) string {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr
	}
	return addr[:idx]
}
