package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packrelay/packrelay/internal/aggregate"
	"github.com/packrelay/packrelay/internal/fact"
	"github.com/packrelay/packrelay/internal/payment"
)

func refreshed(t *testing.T, s *Session) {
	t.Helper()
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
}

func baseDraft() OrderDraft {
	return OrderDraft{
		Pickup:      fact.Location{Address: "1 Origin St"},
		Dropoff:     fact.Location{Address: "9 Target Ave"},
		Packages:    []fact.Package{{Size: fact.SizeSmall, Description: "parts"}},
		OfferAmount: 1500,
		TimeWindow:  "today 14:00-18:00",
	}
}

func TestCreateOrderPublishesPosting(t *testing.T) {
	relays := &fakeRelays{}
	s := newTestSession(t, "alice", relays)

	orderID, err := s.CreateOrder(context.Background(), baseDraft())
	require.NoError(t, err)
	assert.Equal(t, "id-1", orderID)

	f := relays.lastPublished(t)
	assert.Equal(t, fact.KindPosting, f.Kind)
	assert.Equal(t, "alice", f.Author)
	tag, ok := f.TagValue("d")
	require.True(t, ok)
	assert.Equal(t, orderID, tag)

	p, err := fact.DecodePosting(f)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Sender)
	assert.Equal(t, int64(1500), p.OfferAmount)
	assert.Equal(t, engineNow.Unix()+DefaultOrderTTL, p.ExpiresAt)

	// The overlay serves the order before any refresh happens.
	refreshed(t, s)
	o, ok := s.Order(orderID)
	require.True(t, ok)
	assert.Equal(t, aggregate.StatusOpen, o.Status)
}

func TestCreateOrderRejectsBadDraft(t *testing.T) {
	s := newTestSession(t, "alice", &fakeRelays{})
	draft := baseDraft()
	draft.Dropoff.Address = ""
	_, err := s.CreateOrder(context.Background(), draft)
	assert.Equal(t, CodeInvalidInput, CodeOf(err))

	draft = baseDraft()
	draft.OfferAmount = 0
	_, err = s.CreateOrder(context.Background(), draft)
	assert.Equal(t, CodeInvalidInput, CodeOf(err))

	draft = baseDraft()
	draft.Packages = nil
	_, err = s.CreateOrder(context.Background(), draft)
	assert.Equal(t, CodeInvalidInput, CodeOf(err))
}

func TestUpdateOrderResetsBids(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	relays.seed(
		seedPosting(t, base, basePosting("order-1", "alice")),
		seedBid(t, base+10, "order-1", fact.Bid{ID: "bid-1", Courier: "bob", Amount: 1200, CreatedAt: base + 10}),
	)
	s := newTestSession(t, "alice", relays)
	refreshed(t, s)

	draft := baseDraft()
	draft.OfferAmount = 2000
	require.NoError(t, s.UpdateOrder(context.Background(), "order-1", draft, true))

	p, err := fact.DecodePosting(relays.lastPublished(t))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), p.OfferAmount)
	assert.Equal(t, engineNow.Unix(), p.BidsResetAt)

	orders, err := s.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(2000), orders[0].OfferAmount)
	assert.Empty(t, orders[0].Bids, "pre-reset bid must not survive")
}

func TestUpdateOrderOnlySenderWhileOpen(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	relays.seed(
		seedPosting(t, base, basePosting("order-1", "alice")),
		seedBid(t, base+10, "order-1", fact.Bid{ID: "bid-1", Courier: "bob", Amount: 1200, CreatedAt: base + 10}),
		seedStatus(t, "alice", base+20, "order-1", fact.Status{Status: "accepted", AcceptedBid: "bid-1", Timestamp: base + 20}),
	)

	mallory := newTestSession(t, "mallory", relays)
	refreshed(t, mallory)
	err := mallory.UpdateOrder(context.Background(), "order-1", baseDraft(), false)
	assert.Equal(t, CodeForbidden, CodeOf(err))

	alice := newTestSession(t, "alice", relays)
	refreshed(t, alice)
	err = alice.UpdateOrder(context.Background(), "order-1", baseDraft(), false)
	assert.Equal(t, CodeInvalidState, CodeOf(err))
}

func TestPlaceBidCarriesProfileFigures(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	relays.seed(
		seedPosting(t, base, basePosting("order-1", "alice")),
		payloadFact(t, "carol", base, fact.KindProfile, "d", "carol", fact.Profile{
			Actor:               "carol",
			Reputation:          4.5,
			CompletedDeliveries: 7,
			VerifiedIdentity:    true,
		}),
	)
	s := newTestSession(t, "carol", relays)
	refreshed(t, s)

	bidID, err := s.PlaceBid(context.Background(), "order-1", 1400, "can pick up now")
	require.NoError(t, err)
	assert.Equal(t, "id-1", bidID)

	f := relays.lastPublished(t)
	assert.Equal(t, fact.KindBid, f.Kind)
	tag, _ := f.TagValue("delivery_id")
	assert.Equal(t, "order-1", tag)

	b, orderID, err := fact.DecodeBid(f)
	require.NoError(t, err)
	assert.Equal(t, "order-1", orderID)
	assert.Equal(t, "carol", b.Courier)
	assert.Equal(t, int64(1400), b.Amount)
	assert.Equal(t, DefaultEstimatedTime, b.EstimatedTime)
	assert.Equal(t, 4.5, b.Reputation)
	assert.Equal(t, 7, b.CompletedDeliveries)
	assert.Equal(t, "can pick up now", b.Message)

	refreshed(t, s)
	o, _ := s.Order("order-1")
	require.Len(t, o.Bids, 1)
}

func TestPlaceBidGuards(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	relays.seed(seedPosting(t, base, basePosting("order-1", "alice")))

	alice := newTestSession(t, "alice", relays)
	refreshed(t, alice)
	_, err := alice.PlaceBid(context.Background(), "order-1", 1000, "")
	assert.Equal(t, CodeForbidden, CodeOf(err))

	carol := newTestSession(t, "carol", relays)
	refreshed(t, carol)
	_, err = carol.PlaceBid(context.Background(), "order-1", 0, "")
	assert.Equal(t, CodeInvalidInput, CodeOf(err))
	_, err = carol.PlaceBid(context.Background(), "missing", 1000, "")
	assert.Equal(t, CodeUnknownOrder, CodeOf(err))
}

func TestAcceptBidPublishesAcceptance(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	relays.seed(
		seedPosting(t, base, basePosting("order-1", "alice")),
		seedBid(t, base+10, "order-1", fact.Bid{ID: "bid-1", Courier: "bob", Amount: 1200, CreatedAt: base + 10}),
	)
	s := newTestSession(t, "alice", relays)
	refreshed(t, s)

	require.NoError(t, s.AcceptBid(context.Background(), "order-1", "bid-1"))
	st := decodeStatusFact(t, relays.lastPublished(t))
	assert.Equal(t, "accepted", st.Status)
	assert.Equal(t, "bid-1", st.AcceptedBid)
	assert.Equal(t, engineNow.Unix(), st.Timestamp)

	err := s.AcceptBid(context.Background(), "order-1", "bid-9")
	assert.Equal(t, CodeInvalidInput, CodeOf(err))
}

func TestDeclineBid(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	relays.seed(
		seedPosting(t, base, basePosting("order-1", "alice")),
		seedBid(t, base+10, "order-1", fact.Bid{ID: "bid-1", Courier: "bob", Amount: 1200, CreatedAt: base + 10}),
	)
	s := newTestSession(t, "alice", relays)
	refreshed(t, s)

	require.NoError(t, s.DeclineBid(context.Background(), "order-1", "bid-1"))
	st := decodeStatusFact(t, relays.lastPublished(t))
	assert.Equal(t, fact.StatusTypeDeclined, st.Type)
	assert.Equal(t, "bid-1", st.BidID)

	orders, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders[0].Bids)
	assert.Equal(t, []string{"bid-1"}, orders[0].DeclinedBids)
}

func TestWithdrawBid(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	relays.seed(
		seedPosting(t, base, basePosting("order-1", "alice")),
		seedBid(t, base+10, "order-1", fact.Bid{ID: "bid-1", Courier: "bob", Amount: 1200, CreatedAt: base + 10}),
	)
	s := newTestSession(t, "bob", relays)
	refreshed(t, s)

	require.NoError(t, s.WithdrawBid(context.Background(), "order-1"))
	st := decodeStatusFact(t, relays.lastPublished(t))
	assert.Equal(t, fact.StatusTypeWithdrawn, st.Type)
	assert.Equal(t, "bid-1", st.BidID)
}

func TestWithdrawAcceptedBidRefused(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	relays.seed(
		seedPosting(t, base, basePosting("order-1", "alice")),
		seedBid(t, base+10, "order-1", fact.Bid{ID: "bid-1", Courier: "bob", Amount: 1200, CreatedAt: base + 10}),
		seedStatus(t, "alice", base+20, "order-1", fact.Status{Status: "accepted", AcceptedBid: "bid-1", Timestamp: base + 20}),
	)
	s := newTestSession(t, "bob", relays)
	refreshed(t, s)

	err := s.WithdrawBid(context.Background(), "order-1")
	assert.Equal(t, CodeInvalidState, CodeOf(err))
}

func TestMarkInTransit(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	relays.seed(
		seedPosting(t, base, basePosting("order-1", "alice")),
		seedBid(t, base+10, "order-1", fact.Bid{ID: "bid-1", Courier: "bob", Amount: 1200, CreatedAt: base + 10}),
		seedStatus(t, "alice", base+20, "order-1", fact.Status{Status: "accepted", AcceptedBid: "bid-1", Timestamp: base + 20}),
	)

	carol := newTestSession(t, "carol", relays)
	refreshed(t, carol)
	err := carol.MarkInTransit(context.Background(), "order-1")
	assert.Equal(t, CodeForbidden, CodeOf(err))

	bob := newTestSession(t, "bob", relays)
	refreshed(t, bob)
	require.NoError(t, bob.MarkInTransit(context.Background(), "order-1"))
	st := decodeStatusFact(t, relays.lastPublished(t))
	assert.Equal(t, "intransit", st.Status)

	refreshed(t, bob)
	err = bob.MarkInTransit(context.Background(), "order-1")
	assert.Equal(t, CodeInvalidState, CodeOf(err))
}

func acceptedOrderRelays(t *testing.T, requiresSig bool) *fakeRelays {
	t.Helper()
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	p := basePosting("order-1", "alice")
	p.Packages[0].RequiresSignature = requiresSig
	relays.seed(
		seedPosting(t, base, p),
		seedBid(t, base+10, "order-1", fact.Bid{ID: "bid-1", Courier: "bob", Amount: 1200, CreatedAt: base + 10}),
		seedStatus(t, "alice", base+20, "order-1", fact.Status{Status: "accepted", AcceptedBid: "bid-1", Timestamp: base + 20}),
	)
	return relays
}

func TestCompletePublishesProofAndInvoice(t *testing.T) {
	relays := acceptedOrderRelays(t, false)
	wallet := &fakeWallet{}
	s := newTestSession(t, "bob", relays, WithWallet(wallet))
	refreshed(t, s)

	proof := fact.Proof{Images: []string{"sig1"}, Comments: "left at desk"}
	require.NoError(t, s.Complete(context.Background(), "order-1", proof))

	st := decodeStatusFact(t, relays.lastPublished(t))
	assert.Equal(t, "completed", st.Status)
	require.NotNil(t, st.Proof)
	assert.Equal(t, "left at desk", st.Proof.Comments)
	assert.Equal(t, engineNow.Unix(), st.Proof.Timestamp)
	assert.Equal(t, engineNow.Unix(), st.CompletedAt)
	assert.Equal(t, "lnbc-test-invoice", st.PaymentInvoice)
	assert.Equal(t, []int64{1200}, wallet.invoices)
}

func TestCompleteWithoutWallet(t *testing.T) {
	relays := acceptedOrderRelays(t, false)
	s := newTestSession(t, "bob", relays)
	refreshed(t, s)

	require.NoError(t, s.Complete(context.Background(), "order-1", fact.Proof{}))
	st := decodeStatusFact(t, relays.lastPublished(t))
	assert.Equal(t, "completed", st.Status)
	assert.Empty(t, st.PaymentInvoice)
}

func TestCompleteWalletFailureAborts(t *testing.T) {
	relays := acceptedOrderRelays(t, false)
	wallet := &fakeWallet{invoiceErr: payment.ErrPaymentFailed}
	s := newTestSession(t, "bob", relays, WithWallet(wallet))
	refreshed(t, s)

	err := s.Complete(context.Background(), "order-1", fact.Proof{})
	require.ErrorIs(t, err, payment.ErrPaymentFailed)
	assert.Empty(t, relays.publishedFacts(), "nothing published after a wallet failure")
}

func TestCompleteRequiresSignatureName(t *testing.T) {
	relays := acceptedOrderRelays(t, true)
	s := newTestSession(t, "bob", relays)
	refreshed(t, s)

	err := s.Complete(context.Background(), "order-1", fact.Proof{Images: []string{"p"}})
	assert.Equal(t, CodeInvalidInput, CodeOf(err))

	require.NoError(t, s.Complete(context.Background(), "order-1", fact.Proof{SignatureName: "J. Recipient"}))
	st := decodeStatusFact(t, relays.lastPublished(t))
	assert.Equal(t, "J. Recipient", st.Proof.SignatureName)
}

func completedOrderRelays(t *testing.T, invoice string) *fakeRelays {
	t.Helper()
	relays := acceptedOrderRelays(t, false)
	base := engineNow.Unix() - 500
	relays.seed(seedStatus(t, "bob", base+30, "order-1", fact.Status{
		Status:         "completed",
		Proof:          &fact.Proof{Timestamp: base + 30},
		CompletedAt:    base + 30,
		PaymentInvoice: invoice,
		Timestamp:      base + 30,
	}))
	return relays
}

func TestConfirmPaysAndUpdatesReputation(t *testing.T) {
	relays := completedOrderRelays(t, "lnbc-due")
	wallet := &fakeWallet{}
	s := newTestSession(t, "alice", relays, WithWallet(wallet))
	refreshed(t, s)

	require.NoError(t, s.Confirm(context.Background(), "order-1", 4, "quick and careful"))
	assert.Equal(t, []string{"lnbc-due"}, wallet.paid)

	published := relays.publishedFacts()
	require.Len(t, published, 2)

	prof, err := fact.DecodeProfile(published[0])
	require.NoError(t, err)
	assert.Equal(t, "bob", prof.Actor)
	assert.Equal(t, 4.0, prof.Reputation)
	assert.Equal(t, 1, prof.CompletedDeliveries)
	assert.True(t, prof.VerifiedIdentity)

	st := decodeStatusFact(t, published[1])
	assert.Equal(t, "confirmed", st.Status)
	assert.Equal(t, "bid-1", st.AcceptedBid)
	require.NotNil(t, st.SenderRating)
	assert.Equal(t, 4.0, *st.SenderRating)
	assert.Equal(t, "quick and careful", st.SenderFeedback)
	assert.Equal(t, "preimage-test", st.PaymentPreimage)
}

func TestConfirmPaymentFailureAborts(t *testing.T) {
	relays := completedOrderRelays(t, "lnbc-due")
	wallet := &fakeWallet{payErr: payment.ErrPaymentFailed}
	s := newTestSession(t, "alice", relays, WithWallet(wallet))
	refreshed(t, s)

	err := s.Confirm(context.Background(), "order-1", 5, "")
	require.ErrorIs(t, err, payment.ErrPaymentFailed)
	assert.Empty(t, relays.publishedFacts())
}

func TestConfirmGuards(t *testing.T) {
	relays := completedOrderRelays(t, "")
	s := newTestSession(t, "alice", relays)
	refreshed(t, s)

	err := s.Confirm(context.Background(), "order-1", 0, "")
	assert.Equal(t, CodeInvalidInput, CodeOf(err))
	err = s.Confirm(context.Background(), "order-1", 6, "")
	assert.Equal(t, CodeInvalidInput, CodeOf(err))

	bob := newTestSession(t, "bob", relays)
	refreshed(t, bob)
	err = bob.Confirm(context.Background(), "order-1", 5, "")
	assert.Equal(t, CodeForbidden, CodeOf(err))
}

func TestCancelWithForfeitPaysCourier(t *testing.T) {
	relays := completedOrderRelays(t, "lnbc-due")
	wallet := &fakeWallet{}
	s := newTestSession(t, "alice", relays, WithWallet(wallet))
	refreshed(t, s)

	require.NoError(t, s.CancelWithForfeit(context.Background(), "order-1"))
	assert.Equal(t, []string{"lnbc-due"}, wallet.paid)

	st := decodeStatusFact(t, relays.lastPublished(t))
	assert.Equal(t, "expired", st.Status)
	assert.Equal(t, "preimage-test", st.PaymentPreimage)

	orders, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, aggregate.StatusExpired, orders[0].Status)

	err = s.CancelWithForfeit(context.Background(), "order-1")
	assert.Equal(t, CodeInvalidState, CodeOf(err))
}

func TestExpirePublishesSharedExpiry(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	p := basePosting("order-1", "alice")
	p.ExpiresAt = engineNow.Unix() - 10
	relays.seed(seedPosting(t, base, p))
	s := newTestSession(t, "alice", relays)

	orders, err := s.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].ExpiredDerived)

	require.NoError(t, s.Expire(context.Background(), "order-1"))
	st := decodeStatusFact(t, relays.lastPublished(t))
	assert.Equal(t, "expired", st.Status)

	orders, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, aggregate.StatusExpired, orders[0].Status)
	assert.False(t, orders[0].ExpiredDerived)
}

func TestExpireOnlySender(t *testing.T) {
	relays := &fakeRelays{}
	base := engineNow.Unix() - 500
	p := basePosting("order-1", "alice")
	p.ExpiresAt = engineNow.Unix() - 10
	relays.seed(seedPosting(t, base, p))
	s := newTestSession(t, "bob", relays)
	refreshed(t, s)

	err := s.Expire(context.Background(), "order-1")
	assert.Equal(t, CodeForbidden, CodeOf(err))
}

func TestUnconfirmedPublishKeepsLocalOrder(t *testing.T) {
	relays := &fakeRelays{unconfirmed: true}
	s := newTestSession(t, "alice", relays)

	orderID, err := s.CreateOrder(context.Background(), baseDraft())
	require.NoError(t, err)
	require.Len(t, relays.publishedFacts(), 1)

	// No relay ever echoes the posting back. The refresh must keep
	// serving the actor's own write from the overlay, not revert it.
	refreshed(t, s)
	o, ok := s.Order(orderID)
	require.True(t, ok)
	assert.Equal(t, aggregate.StatusOpen, o.Status)
}

func TestUnconfirmedPublishKeepsLocalBid(t *testing.T) {
	relays := &fakeRelays{}
	relays.seed(seedPosting(t, engineNow.Unix()-500, basePosting("order-1", "alice")))
	s := newTestSession(t, "bob", relays)
	refreshed(t, s)

	relays.unconfirmed = true
	bidID, err := s.PlaceBid(context.Background(), "order-1", 1500, "on my way")
	require.NoError(t, err)

	refreshed(t, s)
	o, ok := s.Order("order-1")
	require.True(t, ok)
	require.Len(t, o.Bids, 1)
	assert.Equal(t, bidID, o.Bids[0].ID)
}
