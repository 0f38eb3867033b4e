// Package engine ties the layers together into a session: the per-login
// object that owns the relay pool view, the local overlay, the policy
// rules, and every marketplace action. Relays hold all durable state; a
// session can always be discarded and rebuilt by logging in again.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/packrelay/packrelay/internal/aggregate"
	"github.com/packrelay/packrelay/internal/fact"
	"github.com/packrelay/packrelay/internal/overlay"
	"github.com/packrelay/packrelay/internal/payment"
	"github.com/packrelay/packrelay/internal/policy"
	"github.com/packrelay/packrelay/internal/profile"
	"github.com/packrelay/packrelay/internal/relay"
	"github.com/packrelay/packrelay/internal/store"
)

// DefaultQueryLimit bounds each kind query in a refresh.
const DefaultQueryLimit = 500

// Relays is the slice of the pool the session uses.
type Relays interface {
	Query(ctx context.Context, filter relay.Filter) []fact.Fact
	Publish(ctx context.Context, f fact.Fact) error
	PublishConfirmed(ctx context.Context, f fact.Fact) error
	Connected() int
}

// Session is one actor's live connection to the marketplace.
type Session struct {
	relays     Relays
	signer     fact.Signer
	wallet     payment.Bridge
	archive    *store.Archive
	overlay    *overlay.Overlay
	profiles   *profile.Store
	rules      *policy.Engine
	ids        IDGenerator
	now        func() time.Time
	log        *slog.Logger
	queryLimit int

	refreshing atomic.Bool
	mu         sync.Mutex
	view       []aggregate.Order

	pendingPolicy *policyOption
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithWallet attaches a payment bridge. Without one, payment-dependent
// actions fail with payment.ErrUnavailable.
func WithWallet(w payment.Bridge) SessionOption {
	return func(s *Session) { s.wallet = w }
}

// WithArchive enables local fact archiving.
func WithArchive(a *store.Archive) SessionOption {
	return func(s *Session) { s.archive = a }
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithIDGenerator overrides id generation, for deterministic tests.
func WithIDGenerator(g IDGenerator) SessionOption {
	return func(s *Session) { s.ids = g }
}

// WithClock overrides the session clock, for deterministic tests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithQueryLimit overrides the per-kind refresh query limit.
func WithQueryLimit(n int) SessionOption {
	return func(s *Session) { s.queryLimit = n }
}

// policyConfig is applied after construction; the rules engine needs the
// session as its Actions implementation.
type policyOption struct{ cfg policy.Config }

// WithPolicy enables the automatic rules.
func WithPolicy(cfg policy.Config) SessionOption {
	return func(s *Session) { s.pendingPolicy = &policyOption{cfg: cfg} }
}

// NewSession builds a session for the signer's actor. Call Refresh to
// populate the view.
func NewSession(relays Relays, signer fact.Signer, opts ...SessionOption) *Session {
	s := &Session{
		relays:     relays,
		signer:     signer,
		wallet:     payment.Unconfigured{},
		overlay:    overlay.New(),
		ids:        UUIDv7Generator{},
		now:        time.Now,
		log:        slog.Default(),
		queryLimit: DefaultQueryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("actor", signer.Author())
	s.profiles = profile.NewStore(relays, signer, s.now, s.log)
	if s.pendingPolicy != nil {
		s.rules = policy.NewEngine(signer.Author(), s.pendingPolicy.cfg, policyActions{s}, s.now, s.log)
		s.pendingPolicy = nil
	}
	return s
}

// Actor returns the session actor's id.
func (s *Session) Actor() string { return s.signer.Author() }

// Profiles exposes the profile store for CLI surfaces.
func (s *Session) Profiles() *profile.Store { return s.profiles }

// Wallet exposes the payment bridge for CLI surfaces.
func (s *Session) Wallet() payment.Bridge { return s.wallet }

// Refresh queries all three fact kinds concurrently, folds them, applies
// the overlay, and runs the policy rules. Only one refresh runs at a time;
// overlapping calls fail fast with ErrRefreshBusy. Facts published by
// policy rules during this cycle become visible on the next one.
func (s *Session) Refresh(ctx context.Context) ([]aggregate.Order, error) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return nil, ErrRefreshBusy
	}
	defer s.refreshing.Store(false)

	var postings, bids, statuses []fact.Fact
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		postings = s.relays.Query(gctx, relay.KindFilter(fact.KindPosting, s.queryLimit))
		return nil
	})
	g.Go(func() error {
		bids = s.relays.Query(gctx, relay.KindFilter(fact.KindBid, s.queryLimit))
		return nil
	})
	g.Go(func() error {
		statuses = s.relays.Query(gctx, relay.KindFilter(fact.KindStatus, s.queryLimit))
		return nil
	})
	_ = g.Wait()

	s.archiveFacts(ctx, postings, bids, statuses)

	orders := aggregate.Fold(postings, bids, statuses, s.now())
	orders = s.overlay.Apply(orders)

	s.mu.Lock()
	s.view = orders
	s.mu.Unlock()

	s.profiles.Invalidate()
	if s.rules != nil {
		s.rules.Evaluate(ctx, orders)
	}

	s.log.Debug("refresh complete",
		"postings", len(postings), "bids", len(bids), "statuses", len(statuses),
		"orders", len(orders), "pending", s.overlay.Pending())
	return orders, nil
}

// View returns the orders from the last refresh.
func (s *Session) View() []aggregate.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]aggregate.Order, len(s.view))
	copy(out, s.view)
	return out
}

// Order finds one order in the last refreshed view.
func (s *Session) Order(orderID string) (aggregate.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.view {
		if o.ID == orderID {
			return o, true
		}
	}
	return aggregate.Order{}, false
}

// OfflineView folds orders from the local archive, for when no relay is
// reachable. The overlay and policy rules do not run here; this is a
// read-only fallback.
func (s *Session) OfflineView(ctx context.Context) ([]aggregate.Order, error) {
	if s.archive == nil {
		return nil, nil
	}
	postings, err := s.archive.Facts(ctx, fact.KindPosting)
	if err != nil {
		return nil, err
	}
	bids, err := s.archive.Facts(ctx, fact.KindBid)
	if err != nil {
		return nil, err
	}
	statuses, err := s.archive.Facts(ctx, fact.KindStatus)
	if err != nil {
		return nil, err
	}
	return aggregate.Fold(postings, bids, statuses, s.now()), nil
}

func (s *Session) archiveFacts(ctx context.Context, batches ...[]fact.Fact) {
	if s.archive == nil {
		return
	}
	for _, batch := range batches {
		if err := s.archive.SaveFacts(ctx, batch); err != nil {
			// Archiving is best effort; relays remain authoritative.
			s.log.Warn("archive write failed", "error", err)
			return
		}
	}
}

// signAndPublish signs a draft and publishes it with confirmation. An
// unconfirmed broadcast still succeeds: the fact went out and may well be
// durable on a relay this client has not read back yet, so callers keep
// their optimistic local state and the next refresh reconciles. Only a
// failed broadcast is an error.
func (s *Session) signAndPublish(ctx context.Context, draft fact.Fact) (fact.Fact, error) {
	signed, err := s.signer.Sign(ctx, draft)
	if err != nil {
		return fact.Fact{}, err
	}
	if err := s.relays.PublishConfirmed(ctx, signed); err != nil {
		if !errors.Is(err, relay.ErrPublishUnconfirmed) {
			return fact.Fact{}, err
		}
		s.log.Warn("publish unconfirmed, keeping local copy",
			"fact", signed.ID, "kind", signed.Kind)
	}
	return signed, nil
}
