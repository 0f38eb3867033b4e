// Package policy runs the session's automatic rules after each refresh:
// approving exact-amount bids, invoicing accepted jobs, confirming stale
// completions, and publishing derived expiries. Rules fire at most once per
// order per process; the handled sets live in memory only, so a restart may
// re-derive a decision, which at worst republishes an idempotent fact.
package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/packrelay/packrelay/internal/aggregate"
)

// AutoConfirmRating is the rating granted when a sender lets the grace
// window lapse instead of rating the delivery themselves.
const AutoConfirmRating = 5.0

// Actions is the slice of session behavior the rules drive. The session
// implements it; tests substitute a recorder.
type Actions interface {
	// AcceptBid accepts bidID on the order, as the sender.
	AcceptBid(ctx context.Context, o aggregate.Order, bidID string) error
	// PublishInvoice creates an invoice for amountSats and publishes it on
	// the order, as the accepted courier.
	PublishInvoice(ctx context.Context, o aggregate.Order, amountSats int64) error
	// Confirm pays the order's invoice and publishes the confirmation with
	// the given rating, as the sender.
	Confirm(ctx context.Context, o aggregate.Order, rating float64, feedback string) error
	// PublishExpiry publishes the expired status for the order.
	PublishExpiry(ctx context.Context, orderID string) error
}

// Config selects which rules run and how patient auto-confirm is.
type Config struct {
	// AutoApprove accepts the earliest bid matching the offer exactly.
	AutoApprove bool
	// AutoInvoice publishes a payment invoice once a bid of ours is
	// accepted.
	AutoInvoice bool
	// AutoConfirm confirms completed deliveries after ConfirmGrace.
	AutoConfirm bool
	// ConfirmGrace is how long the sender gets to confirm manually.
	ConfirmGrace time.Duration
	// AutoExpire publishes expiry facts for own orders that lapsed.
	AutoExpire bool
}

type rule string

const (
	ruleApprove rule = "approve"
	ruleInvoice rule = "invoice"
	ruleConfirm rule = "confirm"
	ruleExpire  rule = "expire"
)

// Engine evaluates the rules for one actor. Safe for concurrent use,
// though the session calls it from a single refresh at a time.
type Engine struct {
	actor   string
	cfg     Config
	actions Actions
	now     func() time.Time
	log     *slog.Logger

	mu      sync.Mutex
	handled map[rule]map[string]bool
}

func NewEngine(actor string, cfg Config, actions Actions, now func() time.Time, log *slog.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		actor:   actor,
		cfg:     cfg,
		actions: actions,
		now:     now,
		log:     log,
		handled: make(map[rule]map[string]bool),
	}
}

// Evaluate runs every enabled rule over the reconciled orders. A failing
// action is logged and left unhandled so the next cycle retries it, except
// where a retry could double-pay; those orders are marked handled before
// the action runs.
func (e *Engine) Evaluate(ctx context.Context, orders []aggregate.Order) {
	for _, o := range orders {
		e.evalApprove(ctx, o)
		e.evalInvoice(ctx, o)
		e.evalConfirm(ctx, o)
		e.evalExpire(ctx, o)
	}
}

func (e *Engine) evalApprove(ctx context.Context, o aggregate.Order) {
	if !e.cfg.AutoApprove || o.Sender != e.actor || o.Status != aggregate.StatusOpen {
		return
	}
	var bidID string
	for _, b := range o.Bids {
		if b.Amount == o.OfferAmount {
			bidID = b.ID
			break
		}
	}
	if bidID == "" || e.done(ruleApprove, o.ID) {
		return
	}
	if err := e.actions.AcceptBid(ctx, o, bidID); err != nil {
		e.log.Warn("auto-approve failed", "order", o.ID, "bid", bidID, "error", err)
		return
	}
	e.mark(ruleApprove, o.ID)
	e.log.Info("auto-approved bid", "order", o.ID, "bid", bidID)
}

func (e *Engine) evalInvoice(ctx context.Context, o aggregate.Order) {
	if !e.cfg.AutoInvoice || o.PaymentInvoice != "" {
		return
	}
	if o.Status != aggregate.StatusAccepted && o.Status != aggregate.StatusInTransit {
		return
	}
	b, ok := o.AcceptedBidInfo()
	if !ok || b.Courier != e.actor {
		return
	}
	if e.done(ruleInvoice, o.ID) {
		return
	}
	// Marked up front: invoice creation talks to the wallet, and a retry
	// after a half-failed attempt could issue a second invoice.
	e.mark(ruleInvoice, o.ID)
	if err := e.actions.PublishInvoice(ctx, o, b.Amount); err != nil {
		e.log.Warn("auto-invoice failed", "order", o.ID, "error", err)
		return
	}
	e.log.Info("auto-published invoice", "order", o.ID, "amount_sats", b.Amount)
}

func (e *Engine) evalConfirm(ctx context.Context, o aggregate.Order) {
	if !e.cfg.AutoConfirm || o.Sender != e.actor || o.Status != aggregate.StatusCompleted {
		return
	}
	if o.CompletedAt == 0 || e.now().Unix() < o.CompletedAt+int64(e.cfg.ConfirmGrace/time.Second) {
		return
	}
	if e.done(ruleConfirm, o.ID) {
		return
	}
	// Marked up front: Confirm pays the courier's invoice, and paying the
	// same invoice twice is the one failure mode this engine must never
	// produce.
	e.mark(ruleConfirm, o.ID)
	if err := e.actions.Confirm(ctx, o, AutoConfirmRating, ""); err != nil {
		e.log.Warn("auto-confirm failed", "order", o.ID, "error", err)
		return
	}
	e.log.Info("auto-confirmed delivery", "order", o.ID)
}

func (e *Engine) evalExpire(ctx context.Context, o aggregate.Order) {
	if !e.cfg.AutoExpire || o.Sender != e.actor || !o.ExpiredDerived {
		return
	}
	if e.done(ruleExpire, o.ID) {
		return
	}
	if err := e.actions.PublishExpiry(ctx, o.ID); err != nil {
		e.log.Warn("auto-expire publish failed", "order", o.ID, "error", err)
		return
	}
	e.mark(ruleExpire, o.ID)
	e.log.Info("published derived expiry", "order", o.ID)
}

func (e *Engine) done(r rule, orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handled[r][orderID]
}

func (e *Engine) mark(r rule, orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handled[r] == nil {
		e.handled[r] = make(map[string]bool)
	}
	e.handled[r][orderID] = true
}
