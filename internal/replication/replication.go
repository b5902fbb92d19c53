// Package replication implements the primary/replica topology: role
// state, the replica registry on a primary, command propagation and ACK
// accounting, and the replica-side handshake driver.
package replication

import (
	"crypto/rand"
	"fmt"
	"log"
	"net"
	"sync"
)

// Role is one of the two variants a ReplicationManager can hold. Call
// sites switch on this exhaustively rather than inferring behavior from
// whichever pointer happens to be non-nil.
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

func (r Role) String() string {
	if r == RolePrimary {
		return "master"
	}
	return "slave"
}

// ReplicaHandle is a primary's view of one attached replica: the duplex
// socket used for the handshake and for streaming propagated commands.
// The registry (Manager.replicas) owns the handle; everything else only
// borrows it by key, which sidesteps a primary<->replica cyclic
// back-pointer.
type ReplicaHandle struct {
	ID            string
	Conn          net.Conn
	ListeningPort int
	AckOffset     uint64

	mu sync.Mutex // guards writes to Conn and AckOffset
}

func (r *ReplicaHandle) write(b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.Conn.Write(b)
	return err
}

// primaryState holds the fields that only make sense while acting as a
// primary: replication id, cumulative propagated-byte offset, and the
// replica registry.
type primaryState struct {
	replicationID string
	offset        uint64
	replicas      map[string]*ReplicaHandle
}

// replicaState holds the fields that only make sense while acting as a
// replica: the upstream primary's address and connection, handshake
// progress, and the cumulative byte offset of replication traffic this
// replica has applied since handshake.
type replicaState struct {
	primaryHost       string
	primaryPort       int
	conn              net.Conn
	handshakeComplete bool
	offset            uint64
}

// Manager owns the shared replication state: role plus whichever
// role-specific record applies. Readers take a shared lease for
// role-only queries (INFO). Mutators take an exclusive lease to
// register a replica or advance handshake/offset state; propagation
// takes the exclusive lease only long enough to advance the offset and
// snapshot the replica list, then releases it before writing to each
// replica socket (each socket write is independently mutex-guarded).
type Manager struct {
	mu      sync.RWMutex
	role    Role
	primary *primaryState
	replica *replicaState
}

// NewPrimary creates a Manager in the primary role with a freshly
// generated 40-hex-char replication id.
func NewPrimary() *Manager {
	return &Manager{
		role: RolePrimary,
		primary: &primaryState{
			replicationID: generateReplicationID(),
			replicas:      make(map[string]*ReplicaHandle),
		},
	}
}

// NewReplica creates a Manager in the replica role, pointed at the given
// upstream primary. ConnectAndHandshake performs the actual dial.
func NewReplica(host string, port int) *Manager {
	return &Manager{
		role: RoleReplica,
		replica: &replicaState{
			primaryHost: host,
			primaryPort: port,
		},
	}
}

func generateReplicationID() string {
	b := make([]byte, 20) // 20 bytes = 40 hex characters
	if _, err := rand.Read(b); err != nil {
		log.Printf("[REPLICATION] WARNING: crypto/rand failed, using static fallback id: %v", err)
		return "000000000000000000000000000000000000000f"
	}
	return fmt.Sprintf("%x", b)
}

// Role returns the manager's current role.
func (m *Manager) Role() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

// Info returns the fields needed for INFO replication (spec §6).
type Info struct {
	Role              Role
	ReplicationID     string // primary only
	Offset            uint64
	ConnectedReplicas int // primary only
}

func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.role {
	case RolePrimary:
		return Info{
			Role:              RolePrimary,
			ReplicationID:     m.primary.replicationID,
			Offset:            m.primary.offset,
			ConnectedReplicas: len(m.primary.replicas),
		}
	default:
		return Info{
			Role:   RoleReplica,
			Offset: m.replica.offset,
		}
	}
}

// ==================== PRIMARY OPERATIONS ====================

// ReplicationID returns the primary's 40-hex-char replication id. Empty
// when called on a replica.
func (m *Manager) ReplicationID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.role != RolePrimary {
		return ""
	}
	return m.primary.replicationID
}

// PrimaryOffset returns the primary's cumulative propagated-byte offset.
func (m *Manager) PrimaryOffset() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.role != RolePrimary {
		return 0
	}
	return m.primary.offset
}

// RegisterReplica adds conn to the replica registry under id (the
// replica's announced listening port, or its remote address if no port
// has been announced yet). Call this once PSYNC has been answered and
// the connection is ready to receive propagated commands.
func (m *Manager) RegisterReplica(id string, conn net.Conn, listeningPort int) *ReplicaHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := &ReplicaHandle{ID: id, Conn: conn, ListeningPort: listeningPort}
	m.primary.replicas[id] = h
	log.Printf("[REPLICATION] replica registered: %s (listening-port=%d)", id, listeningPort)
	return h
}

// UpdateReplicaAck records the offset a replica last acknowledged via
// REPLCONF ACK. Unknown ids are ignored (the replica may have already
// been dropped by a failed propagation write).
func (m *Manager) UpdateReplicaAck(id string, offset uint64) {
	m.mu.RLock()
	h, ok := m.primary.replicas[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.AckOffset = offset
	h.mu.Unlock()
}

// RemoveReplica drops id from the registry, e.g. after a failed
// propagation write. No retry is attempted.
func (m *Manager) RemoveReplica(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.primary.replicas[id]; ok {
		delete(m.primary.replicas, id)
		log.Printf("[REPLICATION] replica dropped: %s", id)
	}
}

// Propagate serializes args in wire form and writes it to every
// registered replica, advancing the primary's offset by the encoded
// length exactly once (not once per replica). A replica whose write
// fails is dropped from the registry; the originating client command
// never fails because of it.
func (m *Manager) Propagate(encoded []byte) {
	m.mu.Lock()
	if m.role != RolePrimary {
		m.mu.Unlock()
		return
	}
	m.primary.offset += uint64(len(encoded))
	replicas := make([]*ReplicaHandle, 0, len(m.primary.replicas))
	for _, h := range m.primary.replicas {
		replicas = append(replicas, h)
	}
	m.mu.Unlock()

	for _, h := range replicas {
		if err := h.write(encoded); err != nil {
			log.Printf("[REPLICATION] write to replica %s failed, dropping: %v", h.ID, err)
			m.RemoveReplica(h.ID)
		}
	}
}

// ==================== REPLICA OPERATIONS ====================

// SetHandshakeComplete marks the replica's state-machine transition to
// Synced (spec §4.6 state machine); the connection is then handed to the
// normal read loop in Streaming mode.
func (m *Manager) SetHandshakeComplete(conn net.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replica.conn = conn
	m.replica.handshakeComplete = true
}

// ReplicaOffset returns the replica's applied-byte offset since handshake.
func (m *Manager) ReplicaOffset() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.role != RoleReplica {
		return 0
	}
	return m.replica.offset
}

// AdvanceReplicaOffset advances the replica's applied-byte offset by n,
// the serialized length of one command just applied from the primary.
func (m *Manager) AdvanceReplicaOffset(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replica.offset += uint64(n)
}

// PrimaryAddr returns the configured upstream host:port for a replica.
func (m *Manager) PrimaryAddr() (string, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.replica.primaryHost, m.replica.primaryPort
}
