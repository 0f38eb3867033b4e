// Package aggregate folds raw relay facts into order state. The fold is pure
// and deterministic: the same multiset of facts produces the same orders
// byte for byte, regardless of arrival order or which relays supplied them.
package aggregate

import "github.com/packrelay/packrelay/internal/fact"

// OrderStatus is an order's lifecycle state.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusExpired   OrderStatus = "expired"
	StatusAccepted  OrderStatus = "accepted"
	StatusInTransit OrderStatus = "intransit"
	StatusCompleted OrderStatus = "completed"
	StatusConfirmed OrderStatus = "confirmed"
)

// statusRank orders same-timestamp updates so that later lifecycle stages
// win ties. Unknown statuses rank 0, matching open.
var statusRank = map[OrderStatus]int{
	StatusOpen:      0,
	StatusExpired:   1,
	StatusAccepted:  2,
	StatusInTransit: 3,
	StatusCompleted: 4,
	StatusConfirmed: 5,
}

// Rank returns the tie-break rank of s.
func (s OrderStatus) Rank() int { return statusRank[s] }

// Terminal reports whether no further transitions leave s.
func (s OrderStatus) Terminal() bool {
	return s == StatusExpired || s == StatusConfirmed
}

// Order is the reconciled state of one delivery order after folding all
// known facts. Bids holds only live bids: deduplicated, reset-filtered, and
// with declined/withdrawn bids removed, sorted by CreatedAt ascending.
type Order struct {
	ID              string
	Sender          string
	Pickup          fact.Location
	Dropoff         fact.Location
	Packages        []fact.Package
	Persons         *fact.Persons
	OfferAmount     int64
	InsuranceAmount int64
	TimeWindow      string
	ExpiresAt       int64
	BidsResetAt     int64
	CreatedAt       int64

	Status OrderStatus
	// ExpiredDerived is set when Status reads expired only because the
	// deadline passed locally; no peer has published the transition yet.
	ExpiredDerived bool

	Bids        []fact.Bid
	AcceptedBid string
	Proof       *fact.Proof
	CompletedAt int64

	SenderRating    *float64
	SenderFeedback  string
	PaymentInvoice  string
	PaymentPreimage string

	DeclinedBids  []string
	WithdrawnBids []string
}

// AcceptedBidInfo returns the accepted bid's payload if it is still present
// among all observed bids for the order, live or not.
func (o Order) AcceptedBidInfo() (fact.Bid, bool) {
	if o.AcceptedBid == "" {
		return fact.Bid{}, false
	}
	for _, b := range o.Bids {
		if b.ID == o.AcceptedBid {
			return b, true
		}
	}
	return fact.Bid{}, false
}

// BidBy returns the live bid placed by courier, if any.
func (o Order) BidBy(courier string) (fact.Bid, bool) {
	for _, b := range o.Bids {
		if b.Courier == courier {
			return b, true
		}
	}
	return fact.Bid{}, false
}
