// Package domain holds the error taxonomy shared by the booking core.
// Callers branch with errors.Is; handlers translate these into HTTP codes.
package domain

import "errors"

var (
	// ErrSlotConflict means the requested slot overlaps a held or committed entry.
	ErrSlotConflict = errors.New("slot conflicts with an existing reservation")

	// ErrExpiredHold means the hold lapsed before it was committed.
	ErrExpiredHold = errors.New("availability hold has expired")

	// ErrStaleState is the optimistic-version mismatch. Callers retry with a
	// fresh read; it is never fatal.
	ErrStaleState = errors.New("booking state changed since last read")

	// ErrPolicyViolation covers minimum-notice and working-hours failures.
	ErrPolicyViolation = errors.New("request violates provider policy")

	// ErrTerminalState means the booking already reached a terminal status.
	ErrTerminalState = errors.New("booking is in a terminal state")

	// ErrNotAllowed means the transition is not valid from the current status.
	ErrNotAllowed = errors.New("transition not allowed from current status")

	// ErrPaymentDeclined is a terminal gateway refusal for one obligation.
	ErrPaymentDeclined = errors.New("payment declined by gateway")

	// ErrPaymentTransient is a retryable gateway failure; the sweep retries it
	// with a bounded attempt count.
	ErrPaymentTransient = errors.New("transient payment gateway failure")

	// ErrOverRefund means the requested refund exceeds the net captured amount.
	ErrOverRefund = errors.New("refund exceeds captured amount")

	// ErrInsufficientCredit means the customer balance cannot cover the debit.
	ErrInsufficientCredit = errors.New("insufficient credit balance")

	ErrNotFound = errors.New("not found")
)
