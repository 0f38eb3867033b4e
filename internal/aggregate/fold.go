package aggregate

import (
	"sort"
	"time"

	"github.com/packrelay/packrelay/internal/fact"
)

// Fold reconciles raw facts into orders. Malformed facts and facts that
// reference no known order are dropped silently. now drives the derived
// expiry correction only; nothing else in the fold consults the clock.
//
// Determinism contract: the result depends solely on the set of fact ids
// present in the input. Duplicate facts, input ordering, and relay origin
// have no effect, and the returned slice is sorted by order id.
func Fold(postings, bids, statuses []fact.Fact, now time.Time) []Order {
	orders := foldPostings(postings)
	bidsByOrder := foldBids(bids)
	updates, declined, withdrawn := foldStatuses(statuses)

	out := make([]Order, 0, len(orders))
	for id, o := range orders {
		o.Bids = bidsByOrder[id]
		sort.SliceStable(o.Bids, func(i, j int) bool {
			if o.Bids[i].CreatedAt != o.Bids[j].CreatedAt {
				return o.Bids[i].CreatedAt < o.Bids[j].CreatedAt
			}
			return o.Bids[i].ID < o.Bids[j].ID
		})

		applyUpdates(&o, updates[id])

		o.DeclinedBids = sortedSet(declined[id])
		o.WithdrawnBids = sortedSet(withdrawn[id])

		if o.BidsResetAt > 0 {
			o.Bids = filterBids(o.Bids, func(b fact.Bid) bool {
				return b.CreatedAt > o.BidsResetAt
			})
		}
		if len(o.DeclinedBids) > 0 || len(o.WithdrawnBids) > 0 {
			removed := make(map[string]bool, len(o.DeclinedBids)+len(o.WithdrawnBids))
			for _, id := range o.DeclinedBids {
				removed[id] = true
			}
			for _, id := range o.WithdrawnBids {
				removed[id] = true
			}
			o.Bids = filterBids(o.Bids, func(b fact.Bid) bool {
				return !removed[b.ID]
			})
		}

		// Derived expiry: a stale open order reads as expired even though no
		// peer has published the transition yet.
		if o.Status == StatusOpen && o.ExpiresAt > 0 && o.ExpiresAt < now.Unix() {
			o.Status = StatusExpired
			o.ExpiredDerived = true
		}

		out = append(out, o)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// foldPostings picks, per order, the posting from the newest fact. Ties on
// fact timestamp go to the lexically greater fact id so that every peer
// picks the same winner.
func foldPostings(postings []fact.Fact) map[string]Order {
	type winner struct {
		order     Order
		createdAt int64
		factID    string
	}
	seen := make(map[string]bool, len(postings))
	winners := make(map[string]winner)

	for _, f := range postings {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true

		p, err := fact.DecodePosting(f)
		if err != nil {
			continue
		}
		w, ok := winners[p.ID]
		if ok && (f.CreatedAt < w.createdAt || (f.CreatedAt == w.createdAt && f.ID <= w.factID)) {
			continue
		}
		winners[p.ID] = winner{order: orderFromPosting(p), createdAt: f.CreatedAt, factID: f.ID}
	}

	orders := make(map[string]Order, len(winners))
	for id, w := range winners {
		orders[id] = w.order
	}
	return orders
}

func orderFromPosting(p fact.Posting) Order {
	return Order{
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
		Status:          StatusOpen,
	}
}

// foldBids groups bids by order, deduplicating on the bid payload id. When
// two facts carry the same bid id, the one from the older fact wins (fact id
// breaks ties), so a replayed or tampered duplicate cannot displace the
// original.
func foldBids(bids []fact.Fact) map[string][]fact.Bid {
	ordered := make([]fact.Fact, len(bids))
	copy(ordered, bids)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt != ordered[j].CreatedAt {
			return ordered[i].CreatedAt < ordered[j].CreatedAt
		}
		return ordered[i].ID < ordered[j].ID
	})

	seenBid := make(map[string]bool)
	byOrder := make(map[string][]fact.Bid)
	for _, f := range ordered {
		b, orderID, err := fact.DecodeBid(f)
		if err != nil {
			continue
		}
		if seenBid[b.ID] {
			continue
		}
		seenBid[b.ID] = true
		byOrder[orderID] = append(byOrder[orderID], b)
	}
	return byOrder
}

type statusUpdate struct {
	fact.Status
	ts     int64
	factID string
}

// foldStatuses splits status facts into ordered field updates and the
// declined/withdrawn bid sets. Updates sort by (timestamp, status rank,
// fact id): the rank term makes concurrent same-second transitions resolve
// toward the later lifecycle stage on every peer.
func foldStatuses(statuses []fact.Fact) (updates map[string][]statusUpdate, declined, withdrawn map[string]map[string]bool) {
	updates = make(map[string][]statusUpdate)
	declined = make(map[string]map[string]bool)
	withdrawn = make(map[string]map[string]bool)

	seen := make(map[string]bool, len(statuses))
	for _, f := range statuses {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true

		s, orderID, err := fact.DecodeStatus(f)
		if err != nil {
			continue
		}
		switch {
		case s.Type == fact.StatusTypeDeclined && s.BidID != "":
			if declined[orderID] == nil {
				declined[orderID] = make(map[string]bool)
			}
			declined[orderID][s.BidID] = true
		case s.Type == fact.StatusTypeWithdrawn && s.BidID != "":
			if withdrawn[orderID] == nil {
				withdrawn[orderID] = make(map[string]bool)
			}
			withdrawn[orderID][s.BidID] = true
		default:
			updates[orderID] = append(updates[orderID], statusUpdate{Status: s, ts: f.CreatedAt, factID: f.ID})
		}
	}

	for _, ups := range updates {
		sort.SliceStable(ups, func(i, j int) bool {
			if ups[i].ts != ups[j].ts {
				return ups[i].ts < ups[j].ts
			}
			ri, rj := OrderStatus(ups[i].Status.Status).Rank(), OrderStatus(ups[j].Status.Status).Rank()
			if ri != rj {
				return ri < rj
			}
			return ups[i].factID < ups[j].factID
		})
	}
	return updates, declined, withdrawn
}

// applyUpdates replays field-level updates over the order. Each update
// overwrites only the fields it carries; an omitted field never clears
// earlier state.
func applyUpdates(o *Order, ups []statusUpdate) {
	for _, u := range ups {
		if u.Status.Status != "" {
			o.Status = OrderStatus(u.Status.Status)
		}
		if u.Proof != nil {
			o.Proof = u.Proof
		}
		if u.CompletedAt != 0 {
			o.CompletedAt = u.CompletedAt
		}
		if u.AcceptedBid != "" {
			o.AcceptedBid = u.AcceptedBid
		}
		if u.SenderRating != nil {
			o.SenderRating = u.SenderRating
		}
		if u.SenderFeedback != "" {
			o.SenderFeedback = u.SenderFeedback
		}
		if u.PaymentInvoice != "" {
			o.PaymentInvoice = u.PaymentInvoice
		}
		if u.PaymentPreimage != "" {
			o.PaymentPreimage = u.PaymentPreimage
		}
	}
}

func filterBids(bids []fact.Bid, keep func(fact.Bid) bool) []fact.Bid {
	out := bids[:0]
	for _, b := range bids {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func sortedSet(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
