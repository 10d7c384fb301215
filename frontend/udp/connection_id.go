package udp

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// NewConnectionID creates an 8-byte connection identifier for UDP packets as
// described by BEP 15, bound to (current hour, client port) per the
// tracker's pinned derivation.
//
// This is a wrapper around creating a new ConnectionIDGenerator and
// generating an ID. It is recommended to use the generator for performance.
func NewConnectionID(port uint16, now time.Time) []byte {
	return NewConnectionIDGenerator().Generate(port, now)
}

// ValidConnectionID determines whether a connection identifier is
// legitimate for the given client port during the current hour.
//
// This is a wrapper around creating a new ConnectionIDGenerator and
// validating the ID. It is recommended to use the generator for
// performance.
func ValidConnectionID(connectionID []byte, port uint16, now time.Time) bool {
	return NewConnectionIDGenerator().Validate(connectionID, port, now)
}

// A ConnectionIDGenerator is a reusable generator and validator for
// connection IDs bound to (current hour, client port).
//
// It is not thread safe, but is safe to be pooled and reused by other
// goroutines. It manages its state itself, so it can be taken from and
// returned to a pool without any cleanup. After initial creation, it can
// generate connection IDs without allocating.
type ConnectionIDGenerator struct {
	connID []byte
}

// NewConnectionIDGenerator creates a new connection ID generator.
func NewConnectionIDGenerator() *ConnectionIDGenerator {
	return &ConnectionIDGenerator{
		connID: make([]byte, 8),
	}
}

// Generate generates an 8-byte connection ID for the given client port and
// the current time, binding the id to the hour it was issued in.
//
// The low 36 bits hold the number of hours since the Unix epoch; the
// remaining high bits hold the client's source port. This is the same
// bit-packing as the reference implementation's get_connection_id and is
// intentionally weak: it authenticates neither the client's IP nor
// possession of a secret, only that a request's port and issuing hour
// match, per §9's documented non-security framing.
//
// The generated ID is written to g.connID, which is also returned. g.connID
// will be reused, so it must not be referenced after returning the generator
// to a pool and will be overwritten by subsequent calls to Generate.
func (g *ConnectionIDGenerator) Generate(port uint16, now time.Time) []byte {
	hour := uint64(now.Unix() / 3600)
	id := hour | (uint64(port) << 36)
	binary.BigEndian.PutUint64(g.connID, id)

	log.Debug("generated connection ID", log.Fields{"port": port, "now": now})
	return g.connID
}

// Validate reports whether connectionID is the one Generate would issue to
// port during the current hour.
func (g *ConnectionIDGenerator) Validate(connectionID []byte, port uint16, now time.Time) bool {
	return bytes.Equal(connectionID, g.Generate(port, now))
}
