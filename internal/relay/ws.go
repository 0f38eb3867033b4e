package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/packrelay/packrelay/internal/fact"
)

const wsReadLimit = 1 << 20

// DialWebsocket is the production Dialer: it opens a websocket to the
// endpoint and starts the frame router.
func DialWebsocket(log *slog.Logger) Dialer {
	return func(ctx context.Context, endpoint string) (Conn, error) {
		ws, _, err := websocket.Dial(ctx, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", endpoint, err)
		}
		ws.SetReadLimit(wsReadLimit)

		loopCtx, cancel := context.WithCancel(context.Background())
		c := &wsConn{
			endpoint: endpoint,
			ws:       ws,
			log:      log.With("relay", endpoint),
			cancel:   cancel,
			subs:     make(map[string]*wsSub),
		}
		go c.readLoop(loopCtx)
		return c, nil
	}
}

type wsConn struct {
	endpoint string
	ws       *websocket.Conn
	log      *slog.Logger
	cancel   context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*wsSub
	closed bool
}

type wsSub struct {
	ch   chan fact.Fact
	eose bool
}

func (c *wsConn) Endpoint() string { return c.endpoint }

func (c *wsConn) Subscribe(ctx context.Context, id string, filter Filter) (*Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	sub := &wsSub{ch: make(chan fact.Fact, 256)}
	c.subs[id] = sub
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.ws, []any{"REQ", id, filter}); err != nil {
		c.drop(id)
		return nil, fmt.Errorf("subscribe %s: %w", c.endpoint, err)
	}

	return &Subscription{
		ID:     id,
		Events: sub.ch,
		done: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return sub.eose
		},
		cancel: func() { c.unsubscribe(id) },
	}, nil
}

// unsubscribe drops an abandoned subscription and tells the relay to stop
// serving it. Called when a query gives up before EOSE; after EOSE the sub
// is already gone and this is a no-op.
func (c *wsConn) unsubscribe(id string) {
	if !c.drop(id) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, []any{"CLOSE", id}); err != nil {
		c.log.Debug("close subscription", "sub", id, "error", err)
	}
}

func (c *wsConn) Publish(ctx context.Context, f fact.Fact) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	if err := wsjson.Write(ctx, c.ws, []any{"EVENT", f}); err != nil {
		return fmt.Errorf("publish %s: %w", c.endpoint, err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.cancel()
	c.closeAll()
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// readLoop routes incoming frames to subscriptions until the connection
// dies. A slow consumer loses frames rather than wedging the router; the
// next refresh re-queries anyway.
func (c *wsConn) readLoop(ctx context.Context) {
	for {
		var frame []json.RawMessage
		if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
			c.log.Debug("relay connection closed", "error", err)
			c.closeAll()
			return
		}
		if len(frame) == 0 {
			continue
		}
		var typ string
		if err := json.Unmarshal(frame[0], &typ); err != nil {
			continue
		}
		switch typ {
		case "EVENT":
			if len(frame) < 3 {
				continue
			}
			var subID string
			var f fact.Fact
			if json.Unmarshal(frame[1], &subID) != nil || json.Unmarshal(frame[2], &f) != nil {
				continue
			}
			c.deliver(subID, f)
		case "EOSE":
			if len(frame) < 2 {
				continue
			}
			var subID string
			if json.Unmarshal(frame[1], &subID) != nil {
				continue
			}
			c.finish(ctx, subID)
		case "OK", "NOTICE":
			// Acceptance and notices are informational here.
		}
	}
}

func (c *wsConn) deliver(subID string, f fact.Fact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[subID]
	if !ok {
		return
	}
	select {
	case sub.ch <- f:
	default:
		c.log.Warn("subscription buffer full, dropping fact", "sub", subID, "fact", f.ID)
	}
}

// finish marks a subscription's stored replay complete and releases it.
func (c *wsConn) finish(ctx context.Context, subID string) {
	c.mu.Lock()
	sub, ok := c.subs[subID]
	if ok {
		sub.eose = true
		delete(c.subs, subID)
		close(sub.ch)
	}
	c.mu.Unlock()
	if ok {
		if err := wsjson.Write(ctx, c.ws, []any{"CLOSE", subID}); err != nil {
			c.log.Debug("close subscription", "sub", subID, "error", err)
		}
	}
}

// drop releases a subscription without marking it complete and reports
// whether it was still registered.
func (c *wsConn) drop(subID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[subID]
	if ok {
		delete(c.subs, subID)
		close(sub.ch)
	}
	return ok
}

func (c *wsConn) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub.ch)
	}
}
