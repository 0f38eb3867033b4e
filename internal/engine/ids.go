package engine

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator mints order and bid ids. Swappable so tests get stable ids.
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator is the production generator. Version 7 ids are
// time-sortable, which keeps archive scans and logs roughly chronological
// for free.
type UUIDv7Generator struct{}

func (UUIDv7Generator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4
		// rather than propagating an error through every call site.
		return uuid.NewString()
	}
	return id.String()
}

// FixedGenerator returns a canned sequence of ids, then panics. Test use
// only.
type FixedGenerator struct {
	IDs []string

	mu sync.Mutex
	i  int
}

func (g *FixedGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.i >= len(g.IDs) {
		panic("FixedGenerator: out of ids")
	}
	id := g.IDs[g.i]
	g.i++
	return id
}
