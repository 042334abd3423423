package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns predetermined ids, then falls back to a
// numbered sequence once the list is exhausted.
//
// This keeps chunk group ids stable so tests can assert on physical
// record ids.
//
// Thread-safety: FixedIDGenerator is safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedIDGenerator("group-1", "group-2")
//	gen.Generate() // "group-1"
//	gen.Generate() // "group-2"
//	gen.Generate() // "id-3"
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

// Generate returns the next id.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.idx++
	if g.idx <= len(g.ids) {
		return g.ids[g.idx-1]
	}
	return fmt.Sprintf("id-%d", g.idx)
}
