// Package payment defines the wallet boundary. The engine needs just two
// capabilities, issue an invoice and pay one, and never sees wallet
// internals; whether a bridge speaks wallet-connect, talks to a local node,
// or is a test double is invisible above this interface.
package payment

import (
	"context"
	"errors"
)

// ErrUnavailable means no wallet is configured for the session. Actions
// that require payment fail atomically with this error.
var ErrUnavailable = errors.New("payment bridge unavailable")

// ErrPaymentFailed means the wallet rejected or could not settle a payment.
var ErrPaymentFailed = errors.New("payment failed")

// Bridge issues and settles invoices. Amounts are in sats; implementations
// convert to their provider's unit.
type Bridge interface {
	// CreateInvoice returns a payable invoice for amountSats.
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (string, error)
	// PayInvoice settles the invoice and returns the payment proof
	// (preimage). The proof is published as settlement evidence.
	PayInvoice(ctx context.Context, invoice string) (string, error)
}

// Transaction is one settled or pending wallet entry. AmountMsats follows
// the provider's millisat convention.
type Transaction struct {
	Type        string `json:"type"`
	Invoice     string `json:"invoice"`
	Description string `json:"description"`
	Preimage    string `json:"preimage"`
	PaymentHash string `json:"payment_hash"`
	AmountMsats int64  `json:"amount"`
	FeesPaid    int64  `json:"fees_paid"`
	CreatedAt   int64  `json:"created_at"`
	SettledAt   int64  `json:"settled_at,omitempty"`
}

// Wallet extends Bridge with the balance and history surface used by the
// wallet CLI commands.
type Wallet interface {
	Bridge
	// Balance returns the spendable balance in sats.
	Balance(ctx context.Context) (int64, error)
	// ListTransactions returns up to limit recent transactions, newest
	// first.
	ListTransactions(ctx context.Context, limit int) ([]Transaction, error)
}

// Unconfigured is the Bridge used when the session has no wallet. Every
// call fails with ErrUnavailable.
type Unconfigured struct{}

func (Unconfigured) CreateInvoice(context.Context, int64, string) (string, error) {
	return "", ErrUnavailable
}

func (Unconfigured) PayInvoice(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

func (Unconfigured) Balance(context.Context) (int64, error) {
	return 0, ErrUnavailable
}

func (Unconfigured) ListTransactions(context.Context, int) ([]Transaction, error) {
	return nil, ErrUnavailable
}
