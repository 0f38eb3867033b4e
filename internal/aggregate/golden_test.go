package aggregate

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/packrelay/packrelay/internal/fact"
)

// Golden snapshot of a full order lifecycle fold. Any change to fold
// semantics shows up as a diff here before it ships.
func TestFoldGoldenLifecycle(t *testing.T) {
	rating := 5.0

	postingA := fact.Posting{
		ID: "order-a", Sender: "alice",
		Pickup:      fact.Location{Address: "1 Main St", Instructions: "ring twice"},
		Dropoff:     fact.Location{Address: "9 Oak Ave"},
		Packages:    []fact.Package{{Size: fact.SizeSmall, Description: "books", Fragile: true}},
		OfferAmount: 5000, InsuranceAmount: 250, TimeWindow: "asap",
		ExpiresAt: 1700604800, CreatedAt: 1700000000,
	}
	postingB := fact.Posting{
		ID: "order-b", Sender: "dave",
		Pickup:      fact.Location{Address: "2 Pine Rd"},
		Dropoff:     fact.Location{Address: "5 Elm St"},
		Packages:    []fact.Package{{Size: fact.SizeMedium, Description: "plants"}},
		OfferAmount: 3000, TimeWindow: "today",
		ExpiresAt: 1700604850, CreatedAt: 1700000050,
	}

	postings := []fact.Fact{
		postingFact(t, "pa", 1700000000, postingA),
		postingFact(t, "pb", 1700000050, postingB),
	}
	bids := []fact.Fact{
		bidFact(t, "b1", 1700000100, "order-a", fact.Bid{
			ID: "bid-1", Courier: "bob", Amount: 4500, EstimatedTime: "1-2 hours",
			Reputation: 4.5, CompletedDeliveries: 3, CreatedAt: 1700000100,
		}),
		bidFact(t, "b2", 1700000150, "order-a", fact.Bid{
			ID: "bid-2", Courier: "carol", Amount: 4800, EstimatedTime: "2-3 hours",
			Reputation: 5, CompletedDeliveries: 8, Message: "careful with fragile", CreatedAt: 1700000150,
		}),
	}
	statuses := []fact.Fact{
		statusFact(t, "s1", 1700000200, "order-a", fact.Status{Status: "accepted", AcceptedBid: "bid-1"}),
		statusFact(t, "s5", 1700000250, "order-a", fact.Status{Type: fact.StatusTypeDeclined, BidID: "bid-2"}),
		statusFact(t, "s2", 1700000300, "order-a", fact.Status{Status: "intransit"}),
		statusFact(t, "s3", 1700000400, "order-a", fact.Status{
			Status: "completed", CompletedAt: 1700000400,
			Proof: &fact.Proof{Images: []string{"proof-1.jpg"}, SignatureName: "A. Receiver", Timestamp: 1700000400},
		}),
		statusFact(t, "s4", 1700000500, "order-a", fact.Status{Status: "confirmed", SenderRating: &rating, SenderFeedback: "fast"}),
	}

	orders := Fold(postings, bids, statuses, foldNow)

	data, err := json.MarshalIndent(orders, "", "  ")
	require.NoError(t, err)
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "fold_lifecycle", data)
}
