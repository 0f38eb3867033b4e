package aggregate

// Role selects which side of the marketplace a view is computed for.
type Role string

const (
	RoleSender  Role = "sender"
	RoleCourier Role = "courier"
)

// SenderView buckets an actor's own orders by what they are waiting on.
type SenderView struct {
	AwaitingBids      []Order // open, no live bids yet
	BidsPending       []Order // open with live bids to review
	InTransport       []Order // accepted or in transit
	PendingCompletion []Order // courier marked complete, confirmation due
	Completed         []Order // confirmed
}

// CourierView buckets orders from a courier's perspective.
type CourierView struct {
	Browse               []Order // open orders by others, no bid placed yet
	AwaitingApproval     []Order // open orders with this courier's live bid
	Active               []Order // this courier's accepted jobs
	AwaitingConfirmation []Order // delivered, sender confirmation due
	Completed            []Order // confirmed jobs
}

// ViewFor computes the sender-side buckets for actor.
func ViewFor(orders []Order, actor string) SenderView {
	var v SenderView
	for _, o := range orders {
		if o.Sender != actor {
			continue
		}
		switch {
		case o.Status == StatusOpen && len(o.Bids) == 0:
			v.AwaitingBids = append(v.AwaitingBids, o)
		case o.Status == StatusOpen:
			v.BidsPending = append(v.BidsPending, o)
		case o.Status == StatusAccepted || o.Status == StatusInTransit:
			v.InTransport = append(v.InTransport, o)
		case o.Status == StatusCompleted:
			v.PendingCompletion = append(v.PendingCompletion, o)
		case o.Status == StatusConfirmed:
			v.Completed = append(v.Completed, o)
		}
	}
	return v
}

// CourierViewFor computes the courier-side buckets for actor. An order
// counts as the courier's job only when their bid is the accepted one.
func CourierViewFor(orders []Order, actor string) CourierView {
	var v CourierView
	for _, o := range orders {
		mine, hasBid := o.BidBy(actor)
		accepted := hasBid && o.AcceptedBid == mine.ID

		switch {
		case o.Status == StatusOpen && o.Sender != actor && !hasBid:
			v.Browse = append(v.Browse, o)
		case o.Status == StatusOpen && o.Sender != actor && hasBid:
			v.AwaitingApproval = append(v.AwaitingApproval, o)
		case (o.Status == StatusAccepted || o.Status == StatusInTransit) && accepted:
			v.Active = append(v.Active, o)
		case o.Status == StatusCompleted && accepted:
			v.AwaitingConfirmation = append(v.AwaitingConfirmation, o)
		case o.Status == StatusConfirmed && accepted:
			v.Completed = append(v.Completed, o)
		}
	}
	return v
}

// Notifications counts state changes the actor has not acknowledged yet.
// seen sets hold order ids already acknowledged per bucket.
type Notifications struct {
	NewBids          int // open own orders that gathered bids
	SenderCompleted  int // own orders delivered, awaiting confirmation
	BidAccepted      int // courier's bids that got accepted
	CourierConfirmed int // courier's jobs confirmed by the sender
}

// CountNotifications computes notification badges for actor.
func CountNotifications(orders []Order, actor string, seenBids, seenActive, seenCompleted map[string]bool) Notifications {
	var n Notifications
	for _, o := range orders {
		if o.Sender == actor {
			if o.Status == StatusOpen && len(o.Bids) > 0 && !seenBids[o.ID] {
				n.NewBids++
			}
			if o.Status == StatusCompleted {
				n.SenderCompleted++
			}
			continue
		}
		mine, hasBid := o.BidBy(actor)
		if !hasBid || o.AcceptedBid != mine.ID {
			continue
		}
		if o.Status == StatusAccepted && !seenActive[o.ID] {
			n.BidAccepted++
		}
		if o.Status == StatusConfirmed && !seenCompleted[o.ID] {
			n.CourierConfirmed++
		}
	}
	return n
}
