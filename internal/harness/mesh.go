// Package harness provides an in-process relay mesh for end-to-end tests.
//
// A Mesh stands in for a set of real relay endpoints: the pool dials it
// through Dialer, publishes land in per-relay fact logs, and queries replay
// stored facts with an end-of-stored-events close, which is exactly the
// surface the refresh model uses. Relays can be taken down mid-test to
// exercise partial-mesh behavior.
package harness

import (
	"context"
	"fmt"
	"sync"

	"github.com/packrelay/packrelay/internal/fact"
	"github.com/packrelay/packrelay/internal/relay"
)

// Mesh is a set of in-memory relays addressed by endpoint.
type Mesh struct {
	mu     sync.Mutex
	relays map[string]*Relay
}

// NewMesh creates a mesh with one relay per endpoint.
func NewMesh(endpoints ...string) *Mesh {
	m := &Mesh{relays: make(map[string]*Relay)}
	for _, ep := range endpoints {
		m.relays[ep] = &Relay{endpoint: ep}
	}
	return m
}

// Relay returns the relay behind endpoint, or nil.
func (m *Mesh) Relay(endpoint string) *Relay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relays[endpoint]
}

// Endpoints lists all endpoints in the mesh.
func (m *Mesh) Endpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	eps := make([]string, 0, len(m.relays))
	for ep := range m.relays {
		eps = append(eps, ep)
	}
	return eps
}

// SeedAll stores facts on every relay, as if they had propagated fully.
func (m *Mesh) SeedAll(facts ...fact.Fact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.relays {
		r.Seed(facts...)
	}
}

// Dialer returns a relay.Dialer serving this mesh. Dialing an endpoint
// that is down or unknown fails like an unreachable host.
func (m *Mesh) Dialer() relay.Dialer {
	return func(ctx context.Context, endpoint string) (relay.Conn, error) {
		r := m.Relay(endpoint)
		if r == nil {
			return nil, fmt.Errorf("no route to %s", endpoint)
		}
		if r.isDown() {
			return nil, fmt.Errorf("connection refused: %s", endpoint)
		}
		return &memConn{relay: r}, nil
	}
}

// Relay is one in-memory relay: an append-only fact log keyed by fact id.
type Relay struct {
	endpoint string

	mu    sync.Mutex
	facts []fact.Fact
	down  bool
}

// Seed stores facts directly, bypassing publish.
func (r *Relay) Seed(facts ...fact.Fact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range facts {
		r.store(f)
	}
}

// Facts snapshots everything the relay holds.
func (r *Relay) Facts() []fact.Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fact.Fact, len(r.facts))
	copy(out, r.facts)
	return out
}

// SetDown toggles the relay's reachability. Existing connections start
// failing; new dials are refused.
func (r *Relay) SetDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

func (r *Relay) isDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.down
}

// store appends f unless the id is already present.
func (r *Relay) store(f fact.Fact) {
	for _, existing := range r.facts {
		if existing.ID == f.ID {
			return
		}
	}
	r.facts = append(r.facts, f)
}

func (r *Relay) matching(filter relay.Filter) []fact.Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []fact.Fact
	for _, f := range r.facts {
		if !filter.Matches(f) {
			continue
		}
		out = append(out, f)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// memConn adapts one Relay to the pool's Conn interface.
type memConn struct {
	relay *Relay
}

func (c *memConn) Endpoint() string { return c.relay.endpoint }

// Subscribe replays stored matching facts and closes at end-of-stored.
func (c *memConn) Subscribe(ctx context.Context, id string, filter relay.Filter) (*relay.Subscription, error) {
	if c.relay.isDown() {
		return nil, relay.ErrConnClosed
	}
	stored := c.relay.matching(filter)
	ch := make(chan fact.Fact, len(stored))
	for _, f := range stored {
		ch <- f
	}
	close(ch)
	return relay.NewSubscription(id, ch, func() bool { return true }), nil
}

func (c *memConn) Publish(ctx context.Context, f fact.Fact) error {
	if c.relay.isDown() {
		return relay.ErrConnClosed
	}
	c.relay.mu.Lock()
	defer c.relay.mu.Unlock()
	c.relay.store(f)
	return nil
}

func (c *memConn) Close() error { return nil }
