package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidVendor       = errors.New("invalid_vendor_id")
	ErrInvalidType         = errors.New("invalid_batch_type")
	ErrInvalidStatus       = errors.New("invalid_batch_status")
	ErrInvalidAmount       = errors.New("invalid_requested_amount")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidDateRange    = errors.New("invalid_date_range")
	ErrNotFound            = errors.New("payout_batch_not_found")
	ErrScopeBusy           = errors.New("settlement_scope_busy")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrReconcileMismatch   = errors.New("reconcile_mismatch")
)

// InsufficientBalanceError rejects a manual request larger than the unsettled net.
type InsufficientBalanceError struct {
	Requested int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient_balance: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// ReconcileMismatchError carries the stored and recomputed totals of a batch.
type ReconcileMismatchError struct {
	BatchID  snowflake.ID
	Reason   string
	Stored   Totals
	Computed Totals
}

func (e *ReconcileMismatchError) Error() string {
	return fmt.Sprintf("reconcile_mismatch: batch %s: %s", e.BatchID, e.Reason)
}

func (e *ReconcileMismatchError) Is(target error) bool {
	return target == ErrReconcileMismatch
}
