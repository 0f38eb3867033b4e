// Package overlay bridges the gap between a local publish and the moment
// relays start echoing it back. Pending writes are layered over each fold
// result so the actor always sees their own actions immediately, and each
// pending entry is discarded the first time the relays reflect it.
package overlay

import (
	"sort"
	"sync"

	"github.com/packrelay/packrelay/internal/aggregate"
	"github.com/packrelay/packrelay/internal/fact"
)

// Overlay holds not-yet-echoed local writes. One instance lives per
// session; it is built empty at login, discarded at logout, and is always
// safe to rebuild from empty since relays hold the durable state.
type Overlay struct {
	mu      sync.Mutex
	orders  map[string]fact.Posting
	bids    map[string][]fact.Bid
	expired map[string]bool
}

func New() *Overlay {
	return &Overlay{
		orders:  make(map[string]fact.Posting),
		bids:    make(map[string][]fact.Bid),
		expired: make(map[string]bool),
	}
}

// PutOrder records a locally created or updated order posting.
func (ov *Overlay) PutOrder(p fact.Posting) {
	ov.mu.Lock()
	defer ov.mu.Unlock()
	ov.orders[p.ID] = p
}

// PutBid records a locally placed bid on orderID.
func (ov *Overlay) PutBid(orderID string, b fact.Bid) {
	ov.mu.Lock()
	defer ov.mu.Unlock()
	ov.bids[orderID] = append(ov.bids[orderID], b)
}

// MarkExpired records a local cancellation of orderID.
func (ov *Overlay) MarkExpired(orderID string) {
	ov.mu.Lock()
	defer ov.mu.Unlock()
	ov.expired[orderID] = true
}

// Pending reports how many entries are still waiting for a relay echo.
func (ov *Overlay) Pending() int {
	ov.mu.Lock()
	defer ov.mu.Unlock()
	n := len(ov.orders) + len(ov.expired)
	for _, bs := range ov.bids {
		n += len(bs)
	}
	return n
}

// Apply merges pending writes into a fold result and prunes every entry
// the relays now reflect. The input slice is not modified; the returned
// slice is sorted by order id like the fold output.
func (ov *Overlay) Apply(orders []aggregate.Order) []aggregate.Order {
	ov.mu.Lock()
	defer ov.mu.Unlock()

	out := make([]aggregate.Order, len(orders))
	copy(out, orders)

	index := make(map[string]int, len(out))
	for i, o := range out {
		index[o.ID] = i
	}

	for id, p := range ov.orders {
		if _, echoed := index[id]; echoed {
			delete(ov.orders, id)
			continue
		}
		out = append(out, orderFromPending(p))
		index[id] = len(out) - 1
	}

	for orderID, pending := range ov.bids {
		i, ok := index[orderID]
		if !ok {
			// Order not visible yet; keep the bids pending.
			continue
		}
		var still []fact.Bid
		for _, b := range pending {
			if hasBid(out[i].Bids, b.ID) {
				continue
			}
			still = append(still, b)
			out[i].Bids = append(out[i].Bids, b)
		}
		sort.SliceStable(out[i].Bids, func(a, c int) bool {
			if out[i].Bids[a].CreatedAt != out[i].Bids[c].CreatedAt {
				return out[i].Bids[a].CreatedAt < out[i].Bids[c].CreatedAt
			}
			return out[i].Bids[a].ID < out[i].Bids[c].ID
		})
		if len(still) == 0 {
			delete(ov.bids, orderID)
		} else {
			ov.bids[orderID] = still
		}
	}

	for orderID := range ov.expired {
		i, ok := index[orderID]
		if !ok {
			continue
		}
		if out[i].Status == aggregate.StatusExpired {
			delete(ov.expired, orderID)
			continue
		}
		out[i].Status = aggregate.StatusExpired
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func orderFromPending(p fact.Posting) aggregate.Order {
	return aggregate.Order{
		ID:              p.ID,
		Sender:          p.Sender,
		Pickup:          p.Pickup,
		Dropoff:         p.Dropoff,
		Packages:        p.Packages,
		Persons:         p.Persons,
		OfferAmount:     p.OfferAmount,
		InsuranceAmount: p.InsuranceAmount,
		TimeWindow:      p.TimeWindow,
		ExpiresAt:       p.ExpiresAt,
		BidsResetAt:     p.BidsResetAt,
		CreatedAt:       p.CreatedAt,
		Status:          aggregate.StatusOpen,
	}
}

func hasBid(bids []fact.Bid, id string) bool {
	for _, b := range bids {
		if b.ID == id {
			return true
		}
	}
	return false
}
