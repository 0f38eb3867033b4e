package fact

import (
	"encoding/json"
	"fmt"
)

// PackageSize categorizes a parcel for courier planning.
type PackageSize string

const (
	SizeEnvelope   PackageSize = "envelope"
	SizeSmall      PackageSize = "small"
	SizeMedium     PackageSize = "medium"
	SizeLarge      PackageSize = "large"
	SizeExtraLarge PackageSize = "extra_large"
)

// Package describes one parcel in an order.
type Package struct {
	Size              PackageSize `json:"size"`
	Description       string      `json:"description"`
	Fragile           bool        `json:"fragile"`
	RequiresSignature bool        `json:"requires_signature"`
}

// Location is a pickup or dropoff point.
type Location struct {
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

// Luggage describes passenger luggage for person transports.
type Luggage struct {
	HasLuggage bool   `json:"hasLuggage"`
	Dimensions string `json:"dimensions"`
	Weight     string `json:"weight"`
}

// Persons describes passenger transport requirements.
type Persons struct {
	Adults           int     `json:"adults"`
	Children         int     `json:"children"`
	CarSeatRequested bool    `json:"carSeatRequested"`
	Luggage          Luggage `json:"luggage"`
}

// Proof is the courier's evidence of completed delivery.
type Proof struct {
	Images        []string `json:"images"`
	SignatureName string   `json:"signature_name,omitempty"`
	Timestamp     int64    `json:"timestamp"`
	Comments      string   `json:"comments,omitempty"`
}

// Posting is the content payload of a KindPosting fact: the full order
// description. Republishing a Posting with the same ID replaces the order
// description wholesale at aggregation time.
type Posting struct {
	ID              string    `json:"id"`
	Sender          string    `json:"sender"`
	Pickup          Location  `json:"pickup"`
	Dropoff         Location  `json:"dropoff"`
	Packages        []Package `json:"packages"`
	Persons         *Persons  `json:"persons,omitempty"`
	OfferAmount     int64     `json:"offer_amount"`
	InsuranceAmount int64     `json:"insurance_amount,omitempty"`
	TimeWindow      string    `json:"time_window"`
	ExpiresAt       int64     `json:"expires_at,omitempty"`
	BidsResetAt     int64     `json:"bids_reset_at,omitempty"`
	CreatedAt       int64     `json:"created_at"`
}

// Bid is the content payload of a KindBid fact. Reputation and
// CompletedDeliveries are the courier's self-reported figures at bid time;
// authoritative values live in Profile facts.
type Bid struct {
	ID                  string  `json:"id"`
	Courier             string  `json:"courier"`
	Amount              int64   `json:"amount"`
	EstimatedTime       string  `json:"estimated_time"`
	Reputation          float64 `json:"reputation"`
	CompletedDeliveries int     `json:"completed_deliveries"`
	Message             string  `json:"message,omitempty"`
	CreatedAt           int64   `json:"created_at"`
}

// Status is the content payload of a KindStatus fact. All fields are
// optional; aggregation applies only the fields a given update carries.
//
// Type distinguishes bid-set updates ("bid_declined", "bid_withdrawn",
// keyed by BidID) from plain lifecycle updates (empty Type).
type Status struct {
	Type            string   `json:"type,omitempty"`
	BidID           string   `json:"bid_id,omitempty"`
	Status          string   `json:"status,omitempty"`
	Proof           *Proof   `json:"proof_of_delivery,omitempty"`
	CompletedAt     int64    `json:"completed_at,omitempty"`
	AcceptedBid     string   `json:"accepted_bid,omitempty"`
	SenderRating    *float64 `json:"sender_rating,omitempty"`
	SenderFeedback  string   `json:"sender_feedback,omitempty"`
	PaymentInvoice  string   `json:"payment_invoice,omitempty"`
	PaymentPreimage string   `json:"payment_preimage,omitempty"`
	Timestamp       int64    `json:"timestamp,omitempty"`
}

// StatusTypeDeclined and StatusTypeWithdrawn are the bid-set update types.
const (
	StatusTypeDeclined  = "bid_declined"
	StatusTypeWithdrawn = "bid_withdrawn"
)

// Profile is the content payload of a KindProfile fact, keyed by actor id.
type Profile struct {
	Actor               string  `json:"npub"`
	DisplayName         string  `json:"display_name,omitempty"`
	Reputation          float64 `json:"reputation"`
	CompletedDeliveries int     `json:"completed_deliveries"`
	VerifiedIdentity    bool    `json:"verified_identity"`
	EncryptedWalletURL  string  `json:"encrypted_nwc_url,omitempty"`
}

// DecodePosting parses a Posting payload from f. The fact's correlation tag
// is authoritative for the order id; a payload id that disagrees with the
// tag is overwritten by the tag value.
func DecodePosting(f Fact) (Posting, error) {
	var p Posting
	if f.Kind != KindPosting {
		return p, fmt.Errorf("fact %s: kind %d is not a posting: %w", f.ID, f.Kind, ErrMalformedFact)
	}
	if err := json.Unmarshal([]byte(f.Content), &p); err != nil {
		return p, fmt.Errorf("fact %s: posting payload: %v: %w", f.ID, err, ErrMalformedFact)
	}
	orderID, err := f.OrderID()
	if err != nil {
		return p, err
	}
	p.ID = orderID
	return p, nil
}

// DecodeBid parses a Bid payload from f and returns the order it targets.
func DecodeBid(f Fact) (Bid, string, error) {
	var b Bid
	if f.Kind != KindBid {
		return b, "", fmt.Errorf("fact %s: kind %d is not a bid: %w", f.ID, f.Kind, ErrMalformedFact)
	}
	if err := json.Unmarshal([]byte(f.Content), &b); err != nil {
		return b, "", fmt.Errorf("fact %s: bid payload: %v: %w", f.ID, err, ErrMalformedFact)
	}
	if b.ID == "" {
		return b, "", fmt.Errorf("fact %s: bid without id: %w", f.ID, ErrMalformedFact)
	}
	orderID, err := f.OrderID()
	if err != nil {
		return b, "", err
	}
	return b, orderID, nil
}

// DecodeStatus parses a Status payload from f and returns the order it targets.
func DecodeStatus(f Fact) (Status, string, error) {
	var s Status
	if f.Kind != KindStatus {
		return s, "", fmt.Errorf("fact %s: kind %d is not a status update: %w", f.ID, f.Kind, ErrMalformedFact)
	}
	if err := json.Unmarshal([]byte(f.Content), &s); err != nil {
		return s, "", fmt.Errorf("fact %s: status payload: %v: %w", f.ID, err, ErrMalformedFact)
	}
	orderID, err := f.OrderID()
	if err != nil {
		return s, "", err
	}
	return s, orderID, nil
}

// DecodeProfile parses a Profile payload from f.
func DecodeProfile(f Fact) (Profile, error) {
	var p Profile
	if f.Kind != KindProfile {
		return p, fmt.Errorf("fact %s: kind %d is not a profile: %w", f.ID, f.Kind, ErrMalformedFact)
	}
	if err := json.Unmarshal([]byte(f.Content), &p); err != nil {
		return p, fmt.Errorf("fact %s: profile payload: %v: %w", f.ID, err, ErrMalformedFact)
	}
	return p, nil
}
