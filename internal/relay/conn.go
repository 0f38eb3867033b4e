package relay

import (
	"context"
	"errors"

	"github.com/packrelay/packrelay/internal/fact"
)

// ErrConnClosed is returned by operations on a connection that has been
// closed locally or dropped by the remote side.
var ErrConnClosed = errors.New("relay connection closed")

// Subscription is a live query on one connection. Events delivers matching
// facts as they arrive; the channel is closed after the relay signals
// end-of-stored-events or the connection dies. StoredDone reports whether
// the relay finished replaying stored facts (false means the subscription
// ended early).
type Subscription struct {
	ID     string
	Events <-chan fact.Fact

	done   func() bool
	cancel func()
}

// NewSubscription builds a subscription around an events channel. done is
// polled by StoredDone; in-memory relay implementations use this.
func NewSubscription(id string, events <-chan fact.Fact, done func() bool) *Subscription {
	return &Subscription{ID: id, Events: events, done: done}
}

// Close releases the subscription on the connection side. Callers that
// stop reading before end-of-stream must Close, or the connection keeps
// routing frames to the abandoned subscription. Safe to call after the
// subscription already ended.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// StoredDone reports whether the relay delivered its full stored set before
// Events closed.
func (s *Subscription) StoredDone() bool {
	if s.done == nil {
		return false
	}
	return s.done()
}

// Conn is one relay endpoint. Implementations must be safe for concurrent
// use; the pool issues publishes and subscriptions from multiple
// goroutines.
type Conn interface {
	// Endpoint returns the address this connection was dialed to.
	Endpoint() string
	// Subscribe opens a query subscription. The subscription ends at
	// end-of-stored-events; live streaming past that point is not needed
	// by the refresh model.
	Subscribe(ctx context.Context, id string, filter Filter) (*Subscription, error)
	// Publish sends one fact. It returns once the frame is written; relay
	// acceptance is not awaited.
	Publish(ctx context.Context, f fact.Fact) error
	// Close tears the connection down. Open subscriptions end.
	Close() error
}

// Dialer opens a Conn to one endpoint. The pool treats dial failures as a
// degraded mesh, never as fatal.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)
