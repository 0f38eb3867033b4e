package engine

import (
	"errors"
	"fmt"
)

// ErrRefreshBusy is returned when a Refresh is requested while another is
// still running. The caller keeps its current view and tries again later.
var ErrRefreshBusy = errors.New("refresh already in progress")

// Code classifies action failures for callers that branch on the cause.
type Code string

const (
	// CodeUnknownOrder: the order id matches nothing in the current view.
	CodeUnknownOrder Code = "unknown_order"
	// CodeForbidden: the actor is not the right party for the action.
	CodeForbidden Code = "forbidden"
	// CodeInvalidState: the order's lifecycle state does not allow the
	// action.
	CodeInvalidState Code = "invalid_state"
	// CodeInvalidInput: the action's own parameters are unusable.
	CodeInvalidInput Code = "invalid_input"
)

// ActionError wraps any failure of a session action with the operation and
// order it belongs to.
type ActionError struct {
	Code    Code
	Op      string
	OrderID string
	Err     error
}

func (e *ActionError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.OrderID, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActionError) Unwrap() error { return e.Err }

func actionErr(code Code, op, orderID string, err error) *ActionError {
	return &ActionError{Code: code, Op: op, OrderID: orderID, Err: err}
}

func actionErrf(code Code, op, orderID, format string, args ...any) *ActionError {
	return actionErr(code, op, orderID, fmt.Errorf(format, args...))
}

// CodeOf extracts the classification from err, or "" when err is not an
// action error.
func CodeOf(err error) Code {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsUnknownOrder reports whether err failed because the order id resolved
// to nothing.
func IsUnknownOrder(err error) bool { return CodeOf(err) == CodeUnknownOrder }

// IsForbidden reports whether err failed an actor check.
func IsForbidden(err error) bool { return CodeOf(err) == CodeForbidden }

// IsInvalidState reports whether err failed a lifecycle check.
func IsInvalidState(err error) bool { return CodeOf(err) == CodeInvalidState }
