package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"redis/internal/handler"
	"redis/internal/protocol"
	"redis/internal/replication"
	"redis/internal/storage"
)

// RedisServer owns the listener, the shared stores, and the replication
// manager. Every accepted connection runs its own read/decode/dispatch
// loop; a replica additionally runs one extra loop against its upstream
// primary connection.
type RedisServer struct {
	config  *Config
	store   *storage.Store
	streams *storage.StreamStore
	replMgr *replication.Manager
	handler *handler.CommandHandler

	listener      net.Listener
	connections   sync.Map
	connIDCounter atomic.Int64

	wg           sync.WaitGroup
	shutdownChan chan struct{}
	mu           sync.RWMutex
	isShutdown   bool
}

func NewRedisServer(cfg *Config) *RedisServer {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	store := storage.NewStore()
	streams := storage.NewStreamStore()

	var replMgr *replication.Manager
	if cfg.IsReplica() {
		replMgr = replication.NewReplica(cfg.ReplicaOfHost, cfg.ReplicaOfPort)
		log.Printf("Replication mode: slave of %s:%d", cfg.ReplicaOfHost, cfg.ReplicaOfPort)
	} else {
		replMgr = replication.NewPrimary()
		log.Printf("Replication mode: master (replid %s)", replMgr.ReplicationID())
	}

	cmdHandler := handler.NewCommandHandler(store, streams, replMgr, cfg.Port)

	return &RedisServer{
		config:       cfg,
		store:        store,
		streams:      streams,
		replMgr:      replMgr,
		handler:      cmdHandler,
		shutdownChan: make(chan struct{}),
	}
}

// Start binds the listener, launches the accept loop, and, for a
// replica, drives the handshake against its configured primary before
// handing that connection to the inbound replication read loop. It
// blocks until ctx is cancelled.
func (s *RedisServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	s.listener = listener
	log.Printf("Redis server listening on %s", addr)

	if s.config.IsReplica() {
		s.wg.Add(1)
		go s.runReplicaLink()
	}

	go s.acceptConnections(ctx)

	<-ctx.Done()
	return nil
}

func (s *RedisServer) runReplicaLink() {
	defer s.wg.Done()

	conn, err := s.replMgr.ConnectAndHandshake(s.config.Port)
	if err != nil {
		log.Printf("Warning: replica handshake failed: %v", err)
		return
	}

	s.connections.Store(s.connIDCounter.Add(1), conn)
	replication.RunReplicaLoop(conn, s.replMgr, func(args [][]byte, raw []byte) []byte {
		return s.handler.ApplyReplicated(args)
	})
}

func (s *RedisServer) acceptConnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				s.mu.RLock()
				shuttingDown := s.isShutdown
				s.mu.RUnlock()
				if shuttingDown {
					return
				}
				log.Printf("Error accepting connection: %v", err)
				continue
			}

			s.wg.Add(1)
			go s.handleConnection(ctx, conn)
		}
	}
}

// handleConnection is the per-connection loop: read into a fixed
// buffer, append to the carry buffer kept by protocol.Decoder, and hand
// every complete top-level frame to the dispatcher in order. A decode
// error or closed socket terminates the loop.
func (s *RedisServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	connID := s.connIDCounter.Add(1)
	s.connections.Store(connID, conn)
	defer s.connections.Delete(connID)
	defer conn.Close()

	dec := &protocol.Decoder{}
	buf := make([]byte, s.config.ReadBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, derr := dec.Feed(buf[:n])
			if derr != nil {
				log.Printf("Connection [%d]: decode error, closing: %v", connID, derr)
				return
			}
			for _, f := range frames {
				s.handler.Dispatch(conn, f)
			}
		}
		if err != nil {
			return
		}
	}
}

// Shutdown closes the listener and every open connection, then waits
// (with a bounded timeout) for their loops to exit.
func (s *RedisServer) Shutdown() {
	s.mu.Lock()
	if s.isShutdown {
		s.mu.Unlock()
		return
	}
	s.isShutdown = true
	s.mu.Unlock()

	log.Println("Initiating graceful shutdown...")
	close(s.shutdownChan)

	if s.listener != nil {
		s.listener.Close()
	}

	s.connections.Range(func(_, value interface{}) bool {
		if conn, ok := value.(net.Conn); ok {
			conn.Close()
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All connections closed gracefully")
	case <-time.After(5 * time.Second):
		log.Println("Shutdown timeout reached, forcing exit")
	}

	log.Println("Redis server shutdown complete")
}
