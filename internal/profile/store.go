// Package profile manages actor profile facts: reputation, completion
// counts, and the encrypted per-actor settings blob. Profiles are shared
// state like everything else on the relays; the newest fact per actor wins.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/packrelay/packrelay/internal/fact"
	"github.com/packrelay/packrelay/internal/relay"
)

// Relays is the slice of the pool the profile store needs.
type Relays interface {
	Query(ctx context.Context, filter relay.Filter) []fact.Fact
	Publish(ctx context.Context, f fact.Fact) error
	PublishConfirmed(ctx context.Context, f fact.Fact) error
}

// Store loads and publishes profiles. Loads are cached per refresh cycle;
// call Invalidate when newer facts may exist.
type Store struct {
	relays Relays
	signer fact.Signer
	now    func() time.Time
	log    *slog.Logger

	mu    sync.Mutex
	cache map[string]fact.Profile
}

func NewStore(relays Relays, signer fact.Signer, now func() time.Time, log *slog.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		relays: relays,
		signer: signer,
		now:    now,
		log:    log,
		cache:  make(map[string]fact.Profile),
	}
}

// Load returns the newest profile for actor. An actor with no published
// profile yet gets the zero profile: unknown reputation, no completions.
func (s *Store) Load(ctx context.Context, actor string) fact.Profile {
	s.mu.Lock()
	if p, ok := s.cache[actor]; ok {
		s.mu.Unlock()
		return p
	}
	s.mu.Unlock()

	facts := s.relays.Query(ctx, relay.Filter{
		Kinds: []fact.Kind{fact.KindProfile},
		Tags:  map[string][]string{"d": {actor}},
		Limit: 10,
	})

	best := fact.Profile{Actor: actor}
	var bestAt int64 = -1
	for _, f := range facts {
		p, err := fact.DecodeProfile(f)
		if err != nil {
			s.log.Debug("dropping malformed profile fact", "fact", f.ID, "error", err)
			continue
		}
		if f.CreatedAt > bestAt {
			best = p
			bestAt = f.CreatedAt
		}
	}
	best.Actor = actor

	s.mu.Lock()
	s.cache[actor] = best
	s.mu.Unlock()
	return best
}

// Publish signs and broadcasts a profile, confirmed with read-back. The
// cache picks the new value up immediately.
func (s *Store) Publish(ctx context.Context, p fact.Profile) error {
	content, err := encodeJSON(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	draft := fact.Fact{
		CreatedAt: s.now().Unix(),
		Kind:      fact.KindProfile,
		Tags:      []fact.Tag{{"d", p.Actor}},
		Content:   content,
	}
	signed, err := s.signer.Sign(ctx, draft)
	if err != nil {
		return fmt.Errorf("sign profile: %w", err)
	}
	if err := s.relays.PublishConfirmed(ctx, signed); err != nil {
		return fmt.Errorf("publish profile for %s: %w", p.Actor, err)
	}

	s.mu.Lock()
	s.cache[p.Actor] = p
	s.mu.Unlock()
	return nil
}

// Invalidate clears the cache so the next Load re-queries the relays.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]fact.Profile)
	s.mu.Unlock()
}
