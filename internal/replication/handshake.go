package replication

import (
	"fmt"
	"log"
	"net"

	"redis/internal/protocol"
)

// snapshotBlob is the fixed 88-byte empty-database payload emitted
// immediately after a FULLRESYNC line. Its contents are opaque to the
// core; a replica reads and discards it.
var snapshotBlob = []byte{
	0x52, 0x45, 0x44, 0x49, 0x53, 0x30, 0x30, 0x31, 0x31,
	0xfa, 0x09, 0x72, 0x65, 0x64, 0x69, 0x73, 0x2d, 0x76, 0x65, 0x72,
	0x05, 0x37, 0x2e, 0x32, 0x2e, 0x30,
	0xfa, 0x0a, 0x72, 0x65, 0x64, 0x69, 0x73, 0x2d, 0x62, 0x69, 0x74, 0x73, 0xc0, 0x40,
	0xfa, 0x05, 0x63, 0x74, 0x69, 0x6d, 0x65, 0xc2, 0x6d, 0x08, 0xbc, 0x65,
	0xfa, 0x08, 0x75, 0x73, 0x65, 0x64, 0x2d, 0x6d, 0x65, 0x6d, 0xc2, 0xb0, 0xc4, 0x10, 0x00,
	0xfa, 0x08, 0x61, 0x6f, 0x66, 0x2d, 0x62, 0x61, 0x73, 0x65, 0xc0, 0x00,
	0xff, 0xf0, 0x6e, 0x3b, 0xfe, 0xc0, 0xff, 0x5a, 0xa2,
}

// SnapshotBlob returns the fixed empty-database snapshot payload sent
// immediately after a FULLRESYNC line.
func SnapshotBlob() []byte {
	out := make([]byte, len(snapshotBlob))
	copy(out, snapshotBlob)
	return out
}

// ConnectAndHandshake dials the configured primary and drives the
// four-step handshake (PING, REPLCONF listening-port, REPLCONF capa,
// PSYNC), consuming the FULLRESYNC line and its inlined snapshot blob.
// On success it marks the manager's handshake complete and returns the
// live connection, which the caller then hands to RunReplicaLoop, the
// reply-suppressed inbound replication loop.
func (m *Manager) ConnectAndHandshake(ownListeningPort int) (net.Conn, error) {
	host, port := m.PrimaryAddr()
	addr := fmt.Sprintf("%s:%d", host, port)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial primary %s: %w", addr, err)
	}
	log.Printf("[REPLICATION] dialing primary %s", addr)

	dec := &protocol.Decoder{}

	if err := step(conn, dec, protocol.EncodeCommand("PING")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake PING: %w", err)
	}
	log.Printf("[REPLICATION] handshake: pinged")

	portArg := fmt.Sprintf("%d", ownListeningPort)
	if err := step(conn, dec, protocol.EncodeCommand("REPLCONF", "listening-port", portArg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake REPLCONF listening-port: %w", err)
	}
	log.Printf("[REPLICATION] handshake: port announced")

	if err := step(conn, dec, protocol.EncodeCommand("REPLCONF", "capa", "psync2")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake REPLCONF capa: %w", err)
	}
	log.Printf("[REPLICATION] handshake: capa announced")

	if _, err := conn.Write(protocol.EncodeCommand("PSYNC", "?", "-1")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake PSYNC write: %w", err)
	}

	if err := readFullresync(conn, dec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake PSYNC reply: %w", err)
	}
	log.Printf("[REPLICATION] handshake: synced")

	m.SetHandshakeComplete(conn)
	return conn, nil
}

// step writes one handshake command and blocks until exactly one reply
// frame has been decoded from the connection, discarding its content.
func step(conn net.Conn, dec *protocol.Decoder, encoded []byte) error {
	if _, err := conn.Write(encoded); err != nil {
		return err
	}
	_, err := readFrames(conn, dec, 1)
	return err
}

// readFrames blocks until at least want frames have been decoded,
// reading in fixed-size chunks and feeding the carry-buffer decoder.
func readFrames(conn net.Conn, dec *protocol.Decoder, want int) ([]protocol.Frame, error) {
	var got []protocol.Frame
	buf := make([]byte, 4096)
	for len(got) < want {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, derr := dec.Feed(buf[:n])
			if derr != nil {
				return nil, derr
			}
			got = append(got, frames...)
		}
		if err != nil {
			return nil, err
		}
	}
	return got, nil
}

// readFullresync reads the SimpleString FULLRESYNC line followed by the
// inlined snapshot BulkString, both as ordinary frames through the same
// carry-buffer decoder used for everything else on this socket.
func readFullresync(conn net.Conn, dec *protocol.Decoder) error {
	frames, err := readFrames(conn, dec, 2)
	if err != nil {
		return err
	}
	if frames[0].Kind != protocol.SimpleString {
		return fmt.Errorf("expected FULLRESYNC simple string, got kind %d", frames[0].Kind)
	}
	if frames[1].Kind != protocol.BulkString {
		return fmt.Errorf("expected snapshot bulk string, got kind %d", frames[1].Kind)
	}
	return nil
}

// RunReplicaLoop polls the primary connection and applies every inbound
// command via apply. Before each apply the loop advances the replica's
// offset by the command's encoded length; apply returns the ACK reply to
// write back for REPLCONF GETACK, or nil. Terminates when the connection
// errors.
func RunReplicaLoop(conn net.Conn, m *Manager, apply func(args [][]byte, raw []byte) (ackReply []byte)) {
	dec := &protocol.Decoder{}
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, derr := dec.Feed(buf[:n])
			if derr != nil {
				log.Printf("[REPLICATION] replica stream decode error: %v", derr)
				return
			}
			for _, f := range frames {
				args, aerr := f.Args()
				if aerr != nil {
					continue
				}
				raw := protocol.Encode(f)
				m.AdvanceReplicaOffset(len(raw))
				if reply := apply(args, raw); reply != nil {
					if _, werr := conn.Write(reply); werr != nil {
						log.Printf("[REPLICATION] ack write failed: %v", werr)
						return
					}
				}
			}
		}
		if err != nil {
			log.Printf("[REPLICATION] primary connection closed: %v", err)
			return
		}
	}
}
