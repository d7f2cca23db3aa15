// Package idgenerator hands out connection identifiers. Identifiers double as
// player IDs on the wire, so they must be unique for the life of the process.
package idgenerator

import "sync/atomic"

// IdGenerator generates monotonically increasing int64 IDs in a
// concurrency-safe manner. The first Id() returns the start value itself.
type IdGenerator struct {
	next atomic.Int64
}

// NewIdGenerator creates an IdGenerator whose first Id() is start.
//
// Parameters:
//   - start: The first identifier handed out
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(start int64) *IdGenerator {
	gen := &IdGenerator{}
	gen.next.Store(start)
	return gen
}

// Id returns the next unique ID. It is safe for concurrent use.
func (g *IdGenerator) Id() int64 {
	return g.next.Add(1) - 1
}
