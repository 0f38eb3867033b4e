package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/packrelay/packrelay/internal/aggregate"
	"github.com/packrelay/packrelay/internal/fact"
	"github.com/packrelay/packrelay/internal/payment"
	"github.com/packrelay/packrelay/internal/profile"
)

// DefaultOrderTTL is how long a new posting stays open without an explicit
// expiry.
const DefaultOrderTTL = 7 * 24 * 60 * 60 // seconds

// DefaultEstimatedTime is the bid time estimate when the courier gives none.
const DefaultEstimatedTime = "1-2 hours"

// OrderDraft carries the sender-editable fields of a posting.
type OrderDraft struct {
	Pickup          fact.Location
	Dropoff         fact.Location
	Packages        []fact.Package
	Persons         *fact.Persons
	OfferAmount     int64
	InsuranceAmount int64
	TimeWindow      string
	ExpiresAt       int64
}

func (d OrderDraft) validate() error {
	if d.Pickup.Address == "" || d.Dropoff.Address == "" {
		return errors.New("pickup and dropoff addresses are required")
	}
	if len(d.Packages) == 0 && d.Persons == nil {
		return errors.New("order needs at least one package or a persons block")
	}
	if d.OfferAmount <= 0 {
		return errors.New("offer amount must be positive")
	}
	return nil
}

// CreateOrder publishes a new posting and returns its order id. The posting
// is injected into the overlay so it appears in the view before any relay
// echoes it back.
func (s *Session) CreateOrder(ctx context.Context, draft OrderDraft) (string, error) {
	const op = "create order"
	if err := draft.validate(); err != nil {
		return "", actionErr(CodeInvalidInput, op, "", err)
	}
	now := s.now().Unix()
	p := fact.Posting{
		ID:              s.ids.NewID(),
		Sender:          s.Actor(),
		Pickup:          draft.Pickup,
		Dropoff:         draft.Dropoff,
		Packages:        draft.Packages,
		Persons:         draft.Persons,
		OfferAmount:     draft.OfferAmount,
		InsuranceAmount: draft.InsuranceAmount,
		TimeWindow:      draft.TimeWindow,
		ExpiresAt:       draft.ExpiresAt,
		CreatedAt:       now,
	}
	if p.ExpiresAt == 0 {
		p.ExpiresAt = now + DefaultOrderTTL
	}
	if _, err := s.publishPosting(ctx, p); err != nil {
		return "", err
	}
	s.overlay.PutOrder(p)
	s.log.Info("order created", "order", p.ID, "offer_sats", p.OfferAmount)
	return p.ID, nil
}

// UpdateOrder republishes the posting with the draft's fields. Only the
// sender may update, and only while the order is open. With resetBids, bids
// placed before this update stop counting.
func (s *Session) UpdateOrder(ctx context.Context, orderID string, draft OrderDraft, resetBids bool) error {
	const op = "update order"
	o, ok := s.Order(orderID)
	if !ok {
		return actionErr(CodeUnknownOrder, op, orderID, nil)
	}
	if o.Sender != s.Actor() {
		return actionErrf(CodeForbidden, op, orderID, "only the sender may update an order")
	}
	if o.Status != aggregate.StatusOpen {
		return actionErrf(CodeInvalidState, op, orderID, "order is %s", o.Status)
	}
	if err := draft.validate(); err != nil {
		return actionErr(CodeInvalidInput, op, orderID, err)
	}
	p := fact.Posting{
		ID:              o.ID,
		Sender:          o.Sender,
		Pickup:          draft.Pickup,
		Dropoff:         draft.Dropoff,
		Packages:        draft.Packages,
		Persons:         draft.Persons,
		OfferAmount:     draft.OfferAmount,
		InsuranceAmount: draft.InsuranceAmount,
		TimeWindow:      draft.TimeWindow,
		ExpiresAt:       draft.ExpiresAt,
		BidsResetAt:     o.BidsResetAt,
		CreatedAt:       o.CreatedAt,
	}
	if p.ExpiresAt == 0 {
		p.ExpiresAt = o.ExpiresAt
	}
	if resetBids {
		p.BidsResetAt = s.now().Unix()
	}
	if _, err := s.publishPosting(ctx, p); err != nil {
		return err
	}
	s.overlay.PutOrder(p)
	s.log.Info("order updated", "order", p.ID, "reset_bids", resetBids)
	return nil
}

// PlaceBid publishes a bid on an open order and returns the bid id. The
// bid's reputation figures come from the courier's own published profile.
func (s *Session) PlaceBid(ctx context.Context, orderID string, amountSats int64, message string) (string, error) {
	const op = "place bid"
	o, ok := s.Order(orderID)
	if !ok {
		return "", actionErr(CodeUnknownOrder, op, orderID, nil)
	}
	if o.Sender == s.Actor() {
		return "", actionErrf(CodeForbidden, op, orderID, "senders may not bid on their own orders")
	}
	if o.Status != aggregate.StatusOpen {
		return "", actionErrf(CodeInvalidState, op, orderID, "order is %s", o.Status)
	}
	if amountSats <= 0 {
		return "", actionErrf(CodeInvalidInput, op, orderID, "bid amount must be positive")
	}
	prof := s.profiles.Load(ctx, s.Actor())
	b := fact.Bid{
		ID:                  s.ids.NewID(),
		Courier:             s.Actor(),
		Amount:              amountSats,
		EstimatedTime:       DefaultEstimatedTime,
		Reputation:          prof.Reputation,
		CompletedDeliveries: prof.CompletedDeliveries,
		Message:             message,
		CreatedAt:           s.now().Unix(),
	}
	content, err := encodePayload(b)
	if err != nil {
		return "", actionErr(CodeInvalidInput, op, orderID, err)
	}
	if _, err := s.signAndPublish(ctx, s.orderFactDraft(fact.KindBid, orderID, content)); err != nil {
		return "", err
	}
	s.overlay.PutBid(orderID, b)
	s.log.Info("bid placed", "order", orderID, "bid", b.ID, "amount_sats", amountSats)
	return b.ID, nil
}

// AcceptBid accepts one live bid as the sender, moving the order to
// accepted.
func (s *Session) AcceptBid(ctx context.Context, orderID, bidID string) error {
	const op = "accept bid"
	o, ok := s.Order(orderID)
	if !ok {
		return actionErr(CodeUnknownOrder, op, orderID, nil)
	}
	if o.Sender != s.Actor() {
		return actionErrf(CodeForbidden, op, orderID, "only the sender may accept bids")
	}
	if o.Status != aggregate.StatusOpen {
		return actionErrf(CodeInvalidState, op, orderID, "order is %s", o.Status)
	}
	if !liveBid(o, bidID) {
		return actionErrf(CodeInvalidInput, op, orderID, "bid %s is not live on this order", bidID)
	}
	err := s.publishStatus(ctx, orderID, fact.Status{
		Status:      string(aggregate.StatusAccepted),
		AcceptedBid: bidID,
		Timestamp:   s.now().Unix(),
	})
	if err != nil {
		return err
	}
	s.log.Info("bid accepted", "order", orderID, "bid", bidID)
	return nil
}

// DeclineBid removes a live bid from consideration as the sender.
func (s *Session) DeclineBid(ctx context.Context, orderID, bidID string) error {
	const op = "decline bid"
	o, ok := s.Order(orderID)
	if !ok {
		return actionErr(CodeUnknownOrder, op, orderID, nil)
	}
	if o.Sender != s.Actor() {
		return actionErrf(CodeForbidden, op, orderID, "only the sender may decline bids")
	}
	if !liveBid(o, bidID) {
		return actionErrf(CodeInvalidInput, op, orderID, "bid %s is not live on this order", bidID)
	}
	err := s.publishStatus(ctx, orderID, fact.Status{
		Type:      fact.StatusTypeDeclined,
		BidID:     bidID,
		Timestamp: s.now().Unix(),
	})
	if err != nil {
		return err
	}
	s.log.Info("bid declined", "order", orderID, "bid", bidID)
	return nil
}

// WithdrawBid retracts the session actor's own live bid on the order.
func (s *Session) WithdrawBid(ctx context.Context, orderID string) error {
	const op = "withdraw bid"
	o, ok := s.Order(orderID)
	if !ok {
		return actionErr(CodeUnknownOrder, op, orderID, nil)
	}
	b, ok := o.BidBy(s.Actor())
	if !ok {
		return actionErrf(CodeInvalidState, op, orderID, "no live bid by this courier")
	}
	if o.AcceptedBid == b.ID {
		return actionErrf(CodeInvalidState, op, orderID, "accepted bids cannot be withdrawn")
	}
	err := s.publishStatus(ctx, orderID, fact.Status{
		Type:      fact.StatusTypeWithdrawn,
		BidID:     b.ID,
		Timestamp: s.now().Unix(),
	})
	if err != nil {
		return err
	}
	s.log.Info("bid withdrawn", "order", orderID, "bid", b.ID)
	return nil
}

// MarkInTransit moves an accepted order to intransit. Only the accepted
// courier may do this.
func (s *Session) MarkInTransit(ctx context.Context, orderID string) error {
	const op = "mark in transit"
	o, ok := s.Order(orderID)
	if !ok {
		return actionErr(CodeUnknownOrder, op, orderID, nil)
	}
	if b, ok := o.AcceptedBidInfo(); !ok || b.Courier != s.Actor() {
		return actionErrf(CodeForbidden, op, orderID, "only the accepted courier may start transit")
	}
	if o.Status != aggregate.StatusAccepted {
		return actionErrf(CodeInvalidState, op, orderID, "order is %s", o.Status)
	}
	err := s.publishStatus(ctx, orderID, fact.Status{
		Status:    string(aggregate.StatusInTransit),
		Timestamp: s.now().Unix(),
	})
	if err != nil {
		return err
	}
	s.log.Info("order in transit", "order", orderID)
	return nil
}

// Complete publishes the courier's completion with proof of delivery. When
// the wallet can issue invoices, one for the accepted amount rides along so
// the sender can pay on confirmation; a wallet failure other than
// payment.ErrUnavailable aborts before anything is published.
func (s *Session) Complete(ctx context.Context, orderID string, proof fact.Proof) error {
	const op = "complete"
	o, ok := s.Order(orderID)
	if !ok {
		return actionErr(CodeUnknownOrder, op, orderID, nil)
	}
	b, accepted := o.AcceptedBidInfo()
	if !accepted || b.Courier != s.Actor() {
		return actionErrf(CodeForbidden, op, orderID, "only the accepted courier may complete")
	}
	if o.Status != aggregate.StatusAccepted && o.Status != aggregate.StatusInTransit {
		return actionErrf(CodeInvalidState, op, orderID, "order is %s", o.Status)
	}
	if requiresSignature(o) && proof.SignatureName == "" {
		return actionErrf(CodeInvalidInput, op, orderID, "a package requires a recipient signature name")
	}
	now := s.now().Unix()
	if proof.Timestamp == 0 {
		proof.Timestamp = now
	}
	st := fact.Status{
		Status:      string(aggregate.StatusCompleted),
		Proof:       &proof,
		CompletedAt: now,
		Timestamp:   now,
	}
	if o.PaymentInvoice != "" {
		st.PaymentInvoice = o.PaymentInvoice
	} else {
		invoice, err := s.wallet.CreateInvoice(ctx, b.Amount, "delivery "+orderID)
		switch {
		case err == nil:
			st.PaymentInvoice = invoice
		case errors.Is(err, payment.ErrUnavailable):
			s.log.Debug("no wallet configured, completing without invoice", "order", orderID)
		default:
			return fmt.Errorf("create invoice for order %s: %w", orderID, err)
		}
	}
	if err := s.publishStatus(ctx, orderID, st); err != nil {
		return err
	}
	s.log.Info("delivery completed", "order", orderID, "invoiced", st.PaymentInvoice != "")
	return nil
}

// Confirm is the sender's final step: pay the courier's invoice when one is
// present, fold the rating into the courier's published profile, and
// publish the confirmed status. Payment failure aborts before any fact is
// published.
func (s *Session) Confirm(ctx context.Context, orderID string, rating float64, feedback string) error {
	const op = "confirm"
	o, ok := s.Order(orderID)
	if !ok {
		return actionErr(CodeUnknownOrder, op, orderID, nil)
	}
	if o.Sender != s.Actor() {
		return actionErrf(CodeForbidden, op, orderID, "only the sender may confirm")
	}
	if o.Status != aggregate.StatusCompleted {
		return actionErrf(CodeInvalidState, op, orderID, "order is %s", o.Status)
	}
	if rating < 1 || rating > 5 {
		return actionErrf(CodeInvalidInput, op, orderID, "rating %v is outside 1-5", rating)
	}
	b, accepted := o.AcceptedBidInfo()

	var preimage string
	if o.PaymentInvoice != "" {
		p, err := s.wallet.PayInvoice(ctx, o.PaymentInvoice)
		if err != nil {
			return fmt.Errorf("pay invoice for order %s: %w", orderID, err)
		}
		preimage = p
	}

	if accepted {
		prof := profile.BlendRating(s.profiles.Load(ctx, b.Courier), rating)
		prof.Actor = b.Courier
		if err := s.profiles.Publish(ctx, prof); err != nil {
			// The confirmation still goes out; reputation catches up when
			// a later confirm or the courier republishes.
			s.log.Warn("courier profile update failed", "order", orderID, "courier", b.Courier, "error", err)
		}
	}

	now := s.now().Unix()
	st := fact.Status{
		Status:          string(aggregate.StatusConfirmed),
		CompletedAt:     now,
		AcceptedBid:     o.AcceptedBid,
		SenderRating:    &rating,
		SenderFeedback:  feedback,
		PaymentPreimage: preimage,
		Timestamp:       now,
	}
	if err := s.publishStatus(ctx, orderID, st); err != nil {
		return err
	}
	s.log.Info("delivery confirmed", "order", orderID, "rating", rating, "paid", preimage != "")
	return nil
}

// CancelWithForfeit lets the sender abandon an in-progress order. Any
// outstanding invoice is paid first, compensating the courier, then the
// order is expired.
func (s *Session) CancelWithForfeit(ctx context.Context, orderID string) error {
	const op = "cancel"
	o, ok := s.Order(orderID)
	if !ok {
		return actionErr(CodeUnknownOrder, op, orderID, nil)
	}
	if o.Sender != s.Actor() {
		return actionErrf(CodeForbidden, op, orderID, "only the sender may cancel")
	}
	if o.Status.Terminal() {
		return actionErrf(CodeInvalidState, op, orderID, "order is already %s", o.Status)
	}
	var preimage string
	if o.PaymentInvoice != "" {
		p, err := s.wallet.PayInvoice(ctx, o.PaymentInvoice)
		if err != nil {
			return fmt.Errorf("pay forfeit for order %s: %w", orderID, err)
		}
		preimage = p
	}
	st := fact.Status{
		Status:          string(aggregate.StatusExpired),
		PaymentPreimage: preimage,
		Timestamp:       s.now().Unix(),
	}
	if err := s.publishStatus(ctx, orderID, st); err != nil {
		return err
	}
	s.overlay.MarkExpired(orderID)
	s.log.Info("order cancelled", "order", orderID, "forfeit_paid", preimage != "")
	return nil
}

// Expire publishes the expired status for the sender's own lapsed order,
// turning a locally derived expiry into shared state.
func (s *Session) Expire(ctx context.Context, orderID string) error {
	const op = "expire"
	o, ok := s.Order(orderID)
	if !ok {
		return actionErr(CodeUnknownOrder, op, orderID, nil)
	}
	if o.Sender != s.Actor() {
		return actionErrf(CodeForbidden, op, orderID, "only the sender may expire an order")
	}
	if o.Status != aggregate.StatusOpen && !o.ExpiredDerived {
		return actionErrf(CodeInvalidState, op, orderID, "order is %s", o.Status)
	}
	err := s.publishStatus(ctx, orderID, fact.Status{
		Status:    string(aggregate.StatusExpired),
		Timestamp: s.now().Unix(),
	})
	if err != nil {
		return err
	}
	s.overlay.MarkExpired(orderID)
	s.log.Info("order expired", "order", orderID)
	return nil
}

// policyActions adapts the session to the rules engine's narrower surface.
type policyActions struct{ s *Session }

func (a policyActions) AcceptBid(ctx context.Context, o aggregate.Order, bidID string) error {
	return a.s.AcceptBid(ctx, o.ID, bidID)
}

// PublishInvoice publishes a field-only status update carrying the invoice.
// No lifecycle transition happens; aggregation merges the field into the
// order's current state.
func (a policyActions) PublishInvoice(ctx context.Context, o aggregate.Order, amountSats int64) error {
	invoice, err := a.s.wallet.CreateInvoice(ctx, amountSats, "delivery "+o.ID)
	if err != nil {
		return fmt.Errorf("create invoice for order %s: %w", o.ID, err)
	}
	return a.s.publishStatus(ctx, o.ID, fact.Status{
		PaymentInvoice: invoice,
		Timestamp:      a.s.now().Unix(),
	})
}

func (a policyActions) Confirm(ctx context.Context, o aggregate.Order, rating float64, feedback string) error {
	return a.s.Confirm(ctx, o.ID, rating, feedback)
}

func (a policyActions) PublishExpiry(ctx context.Context, orderID string) error {
	return a.s.Expire(ctx, orderID)
}

func (s *Session) publishPosting(ctx context.Context, p fact.Posting) (fact.Fact, error) {
	content, err := encodePayload(p)
	if err != nil {
		return fact.Fact{}, err
	}
	draft := fact.Fact{
		CreatedAt: s.now().Unix(),
		Kind:      fact.KindPosting,
		Tags:      []fact.Tag{{"d", p.ID}},
		Content:   content,
	}
	return s.signAndPublish(ctx, draft)
}

func (s *Session) publishStatus(ctx context.Context, orderID string, st fact.Status) error {
	content, err := encodePayload(st)
	if err != nil {
		return err
	}
	_, err = s.signAndPublish(ctx, s.orderFactDraft(fact.KindStatus, orderID, content))
	return err
}

func (s *Session) orderFactDraft(kind fact.Kind, orderID, content string) fact.Fact {
	return fact.Fact{
		CreatedAt: s.now().Unix(),
		Kind:      kind,
		Tags:      []fact.Tag{{"delivery_id", orderID}},
		Content:   content,
	}
}

func encodePayload(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func liveBid(o aggregate.Order, bidID string) bool {
	for _, b := range o.Bids {
		if b.ID == bidID {
			return true
		}
	}
	return false
}

func requiresSignature(o aggregate.Order) bool {
	for _, p := range o.Packages {
		if p.RequiresSignature {
			return true
		}
	}
	return false
}
