package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/packrelay/packrelay/internal/aggregate"
	"github.com/packrelay/packrelay/internal/fact"
)

func sampleOrders() []aggregate.Order {
	return []aggregate.Order{
		{
			ID:          "order-aaaa-bbbb-cccc",
			Sender:      "alice",
			Pickup:      fact.Location{Address: "1 Origin St"},
			Dropoff:     fact.Location{Address: "9 Target Ave"},
			OfferAmount: 1500000,
			Status:      aggregate.StatusOpen,
			Bids: []fact.Bid{
				{ID: "bid-1", Courier: "bob", Amount: 1400000, Reputation: 4.5, CompletedDeliveries: 7},
			},
		},
		{
			ID:          "order-dddd-eeee-ffff",
			Sender:      "carol",
			Pickup:      fact.Location{Address: "2 Side St"},
			Dropoff:     fact.Location{Address: "5 Main St"},
			OfferAmount: 800,
			Status:      aggregate.StatusAccepted,
			AcceptedBid: "bid-2",
			Bids:        []fact.Bid{{ID: "bid-2", Courier: "alice", Amount: 800}},
		},
	}
}

func TestRenderOrderTableGroupsSats(t *testing.T) {
	var buf bytes.Buffer
	renderOrders(&buf, sampleOrders(), "alice", "all")
	out := buf.String()

	assert.Contains(t, out, "order-aaaa-b", "ids are shortened")
	assert.NotContains(t, out, "order-aaaa-bbbb-cccc")
	assert.Contains(t, out, "1,500,000")
	assert.Contains(t, out, "1 Origin St -> 9 Target Ave")
	// Bid detail rows only appear under the actor's own orders.
	assert.Contains(t, out, "bid bid-1")
	assert.Contains(t, out, "rep 4.5 / 7 done")
	assert.NotContains(t, out, "bid bid-2")
}

func TestRenderOrdersSenderBuckets(t *testing.T) {
	var buf bytes.Buffer
	renderOrders(&buf, sampleOrders(), "alice", "sender")
	out := buf.String()

	assert.Contains(t, out, "bids pending (1)")
	assert.NotContains(t, out, "order-dddd", "other senders' orders excluded")
}

func TestRenderOrdersCourierBuckets(t *testing.T) {
	var buf bytes.Buffer
	renderOrders(&buf, sampleOrders(), "bob", "courier")
	out := buf.String()

	assert.Contains(t, out, "awaiting approval (1)")
	assert.Contains(t, out, "order-aaaa-b")
}

func TestRenderOrdersEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderOrders(&buf, nil, "alice", "sender")
	assert.Equal(t, "no orders\n", buf.String())
}

func TestRenderDerivedExpiryAnnotated(t *testing.T) {
	orders := []aggregate.Order{{
		ID:             "order-1",
		Sender:         "alice",
		Pickup:         fact.Location{Address: "a"},
		Dropoff:        fact.Location{Address: "b"},
		Status:         aggregate.StatusExpired,
		ExpiredDerived: true,
	}}
	var buf bytes.Buffer
	renderOrders(&buf, orders, "alice", "all")
	assert.Contains(t, buf.String(), "expired (local)")
}

func TestOrdersPayloadByRole(t *testing.T) {
	orders := sampleOrders()
	assert.IsType(t, aggregate.SenderView{}, ordersPayload(orders, "alice", "sender"))
	assert.IsType(t, aggregate.CourierView{}, ordersPayload(orders, "bob", "courier"))
	assert.IsType(t, []aggregate.Order{}, ordersPayload(orders, "alice", "all"))
}
