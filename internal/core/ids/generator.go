// Package ids produces identifiers for comments and replies.
//
// Identifiers are atProto TIDs: a base32-sortable microsecond timestamp combined
// with a 10-bit clock id. A single Generator never returns the same value twice
// and its output sorts in issue order. Two sessions pick independent clock ids,
// so identifiers minted concurrently on different clients only collide if both
// the microsecond and the clock id match.
package ids

import (
	"encoding/binary"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/google/uuid"
)

// maxClockID is the largest clock id a TID can carry (10 bits)
const maxClockID = 1023

// Generator issues identifiers unique within the lifetime of a post's comment tree
type Generator interface {
	// Next returns a new identifier, strictly greater than any previous one
	// returned by this generator
	Next() string
}

// TIDGenerator is a Generator backed by a monotonic TID clock
type TIDGenerator struct {
	clock syntax.TIDClock
}

var _ Generator = (*TIDGenerator)(nil)

// NewTIDGenerator creates a generator with a fixed clock id.
// Clock ids above 1023 are folded into range.
func NewTIDGenerator(clockID uint) *TIDGenerator {
	return &TIDGenerator{clock: syntax.NewTIDClock(clockID % (maxClockID + 1))}
}

// NewSessionGenerator creates a generator whose clock id is derived from a random
// session UUID, disambiguating identifiers minted by different clients
func NewSessionGenerator() *TIDGenerator {
	return NewTIDGenerator(SessionClockID(uuid.New()))
}

// SessionClockID folds a session UUID into a 10-bit TID clock id
func SessionClockID(session uuid.UUID) uint {
	return uint(binary.BigEndian.Uint16(session[:2])) & maxClockID
}

// Next returns the next TID as a string. Safe for concurrent use.
func (g *TIDGenerator) Next() string {
	return g.clock.Next().String()
}
