// Package idgen generates local_message_id values: device-scoped
// snowflake identifiers used only for send idempotency and ACK matching.
// They never leave the device as identity and MUST NOT be confused with
// server_message_id.
package idgen

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
)

// privchatEpoch anchors the timestamp component so 41 bits comfortably
// cover decades of wall-clock time, the same tradeoff classic snowflake
// layouts make.
var privchatEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	nodeBits     = 10
	sequenceBits = 12
	maxSequence  = (1 << sequenceBits) - 1
	nodeShift    = sequenceBits
	timeShift    = sequenceBits + nodeBits
)

// Snowflake produces monotonically increasing 64-bit local_message_id
// values: 41 bits of milliseconds since privchatEpoch, 10 bits of node
// id, 12 bits of per-millisecond sequence.
type Snowflake struct {
	mu       sync.Mutex
	nodeID   int64
	lastMs   int64
	sequence int64
}

// NewSnowflake builds a generator with a node id derived from a random
// UUID so multiple device installs never collide without requiring the
// caller to configure a machine id.
func NewSnowflake() *Snowflake {
	id := uuid.New()
	b := id[:]
	node := int64(binary.BigEndian.Uint16(b[:2])) & ((1 << nodeBits) - 1)
	return &Snowflake{nodeID: node}
}

// Next returns the next local_message_id, blocking up to one millisecond
// if the per-millisecond sequence space is exhausted.
func (s *Snowflake) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := time.Since(privchatEpoch).Milliseconds()
	if ms == s.lastMs {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for ms <= s.lastMs {
				ms = time.Since(privchatEpoch).Milliseconds()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMs = ms

	return (ms << timeShift) | (s.nodeID << nodeShift) | s.sequence
}
