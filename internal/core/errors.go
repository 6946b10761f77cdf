package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrBusy            = errors.New("purchase order is busy, retry later")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrOverDispatch    = errors.New("dispatch exceeds ordered quantity")
	ErrOverInvoice     = errors.New("invoice exceeds dispatched quantity")
	ErrInvariant       = errors.New("ledger invariant violated")
)

// Rejection describes why one lot or item of a batch was refused.
type Rejection struct {
	Ref       string          `json:"ref"`
	Reason    string          `json:"reason"`
	Requested decimal.Decimal `json:"requested_qty"`
	Available decimal.Decimal `json:"available_qty"`
}

// ValidationError carries every rejection found in a batch. Nothing was written.
type ValidationError struct {
	Rejections []Rejection
}

func (e *ValidationError) Error() string {
	if len(e.Rejections) == 1 {
		r := e.Rejections[0]
		return fmt.Sprintf("validation failed: %s: %s", r.Ref, r.Reason)
	}
	parts := make([]string, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		parts = append(parts, r.Ref+": "+r.Reason)
	}
	return fmt.Sprintf("validation failed (%d problems): %s", len(e.Rejections), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvariantViolation means the ledger's materialized counters disagree with their defining
// sums. It is a consistency bug, never a user error.
type InvariantViolation struct {
	Lot    LotRef
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("ledger invariant violated at %s: %s", e.Lot, e.Detail)
}

func (e *InvariantViolation) Unwrap() error { return ErrInvariant }

// ConflictError reports a write refused because other documents depend on the target.
type ConflictError struct {
	Reason     string
	Dependents []string
}

func (e *ConflictError) Error() string {
	if len(e.Dependents) == 0 {
		return "conflict: " + e.Reason
	}
	return fmt.Sprintf("conflict: %s (%s)", e.Reason, strings.Join(e.Dependents, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// IsRetryable reports whether the caller may retry the same request unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// Rejections extracts the rejection list from err, if it is a validation error.
func Rejections(err error) []Rejection {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Rejections
	}
	return nil
}
