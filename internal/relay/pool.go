package relay

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/packrelay/packrelay/internal/fact"
)

const (
	// DefaultConnectTimeout bounds each endpoint dial; a dead relay costs
	// at most this much wall time and never blocks the others.
	DefaultConnectTimeout = 4 * time.Second
	// DefaultQueryTimeout bounds a fan-out query; whatever arrived by then
	// is returned as a partial result.
	DefaultQueryTimeout = 6 * time.Second
	// DefaultSettleWait is how long a publish gets to propagate before the
	// read-back verification.
	DefaultSettleWait = 500 * time.Millisecond
)

// Pool fans every operation out across a set of relay connections. Relays
// are interchangeable: results are deduplicated by fact id, and any single
// relay dying mid-operation degrades the result instead of failing it.
type Pool struct {
	log            *slog.Logger
	dial           Dialer
	connectTimeout time.Duration
	queryTimeout   time.Duration
	settleWait     time.Duration
	newSubID       func() string

	mu    sync.Mutex
	conns []Conn
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

func WithLogger(log *slog.Logger) PoolOption {
	return func(p *Pool) { p.log = log }
}

func WithDialer(d Dialer) PoolOption {
	return func(p *Pool) { p.dial = d }
}

func WithConnectTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.connectTimeout = d }
}

func WithQueryTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.queryTimeout = d }
}

func WithSettleWait(d time.Duration) PoolOption {
	return func(p *Pool) { p.settleWait = d }
}

// WithSubIDSource overrides subscription id generation, for deterministic
// tests.
func WithSubIDSource(f func() string) PoolOption {
	return func(p *Pool) { p.newSubID = f }
}

// NewPool builds a pool with no connections. Call Connect before use.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		log:            slog.Default(),
		connectTimeout: DefaultConnectTimeout,
		queryTimeout:   DefaultQueryTimeout,
		settleWait:     DefaultSettleWait,
		newSubID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dial == nil {
		p.dial = DialWebsocket(p.log)
	}
	return p
}

// Connect dials all endpoints concurrently, each bounded by the connect
// timeout, and reports whether at least one came up. Failed endpoints are
// logged and skipped.
func (p *Pool) Connect(ctx context.Context, endpoints []string) bool {
	var g errgroup.Group
	for _, endpoint := range endpoints {
		g.Go(func() error {
			dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
			defer cancel()
			c, err := p.dial(dialCtx, endpoint)
			if err != nil {
				p.log.Warn("relay unreachable", "relay", endpoint, "error", err)
				return nil
			}
			p.mu.Lock()
			p.conns = append(p.conns, c)
			p.mu.Unlock()
			p.log.Debug("relay connected", "relay", endpoint)
			return nil
		})
	}
	_ = g.Wait()
	return p.Connected() > 0
}

// Connected returns the number of live connections.
func (p *Pool) Connected() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Endpoints lists the endpoints of the live connections.
func (p *Pool) Endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.conns))
	for i, c := range p.conns {
		out[i] = c.Endpoint()
	}
	return out
}

// Close tears down all connections.
func (p *Pool) Close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, c := range conns {
		if err := c.Close(); err != nil {
			p.log.Debug("close relay", "relay", c.Endpoint(), "error", err)
		}
	}
}

// Query runs the filter on every live connection and merges the results,
// deduplicated by fact id and sorted by (created_at, id). It returns when
// every relay finished its stored replay or the query timeout fires,
// whichever is first; a timeout yields the partial set collected so far.
// With no live connections the result is empty, not an error.
func (p *Pool) Query(ctx context.Context, filter Filter) []fact.Fact {
	conns := p.live()
	if len(conns) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	subID := p.newSubID()
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		out  []fact.Fact
	)

	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			sub, err := c.Subscribe(ctx, subID, filter)
			if err != nil {
				p.log.Warn("subscribe failed, dropping relay", "relay", c.Endpoint(), "error", err)
				p.prune(c)
				return nil
			}
			defer sub.Close()
			for {
				select {
				case f, ok := <-sub.Events:
					if !ok {
						return nil
					}
					mu.Lock()
					if !seen[f.ID] {
						seen[f.ID] = true
						out = append(out, f)
					}
					mu.Unlock()
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	_ = g.Wait()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Publish broadcasts the fact to every live connection, fire and forget.
// It succeeds when at least one connection accepted the frame.
func (p *Pool) Publish(ctx context.Context, f fact.Fact) error {
	conns := p.live()
	if len(conns) == 0 {
		return ErrNotConnected
	}
	sent := 0
	for _, c := range conns {
		if err := c.Publish(ctx, f); err != nil {
			p.log.Warn("publish failed, dropping relay", "relay", c.Endpoint(), "error", err)
			p.prune(c)
			continue
		}
		sent++
	}
	if sent == 0 {
		return ErrNotConnected
	}
	return nil
}

// VerifyPublished reports whether any relay now serves the fact.
func (p *Pool) VerifyPublished(ctx context.Context, f fact.Fact) bool {
	got := p.Query(ctx, Filter{IDs: []string{f.ID}, Authors: []string{f.Author}, Limit: 1})
	for _, g := range got {
		if g.ID == f.ID {
			return true
		}
	}
	return false
}

// PublishConfirmed publishes, waits out the settle window, and verifies the
// fact is readable back. One full retry on failure, then
// ErrPublishUnconfirmed.
func (p *Pool) PublishConfirmed(ctx context.Context, f fact.Fact) error {
	for attempt := range 2 {
		if err := p.Publish(ctx, f); err != nil {
			return err
		}
		select {
		case <-time.After(p.settleWait):
		case <-ctx.Done():
			return ctx.Err()
		}
		if p.VerifyPublished(ctx, f) {
			return nil
		}
		p.log.Warn("fact not visible after publish", "fact", f.ID, "attempt", attempt+1)
	}
	return ErrPublishUnconfirmed
}

func (p *Pool) live() []Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Conn, len(p.conns))
	copy(out, p.conns)
	return out
}

func (p *Pool) prune(dead Conn) {
	p.mu.Lock()
	for i, c := range p.conns {
		if c == dead {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	_ = dead.Close()
}
