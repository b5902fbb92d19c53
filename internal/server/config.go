package server

// Config holds the server's full startup configuration: everything that
// can be set via CLI flags (see cmd/server) plus the buffer sizing the
// connection loop uses.
type Config struct {
	Host            string
	Port            int
	ReadBufferSize  int
	WriteBufferSize int

	// Replication configuration. ReplicaOfHost is empty for a primary;
	// when set, the server dials that primary and runs the handshake in
	// its own goroutine, alongside the client accept loop.
	ReplicaOfHost string
	ReplicaOfPort int
}

func DefaultConfig() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            6379,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// IsReplica reports whether this config starts the server as a replica.
func (c *Config) IsReplica() bool {
	return c.ReplicaOfHost != ""
}
