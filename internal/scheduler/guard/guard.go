package guard

import (
	"errors"
	"time"

	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
)

var (
	ErrVendorNotApproved  = errors.New("vendor_not_approved")
	ErrVendorInactive     = errors.New("vendor_inactive")
	ErrAutoPayoutDisabled = errors.New("auto_payout_disabled")
	ErrNotDue             = errors.New("auto_payout_not_due")
)

// EnsureVendorDue reports why a vendor must not be auto settled at now.
// A vendor that was never scheduled is due.
func EnsureVendorDue(status vendordomain.Status, isActive, autoEnabled bool, nextRun *time.Time, now time.Time) error {
	if status != vendordomain.StatusApproved {
		return ErrVendorNotApproved
	}
	if !isActive {
		return ErrVendorInactive
	}
	if !autoEnabled {
		return ErrAutoPayoutDisabled
	}
	if nextRun != nil && nextRun.After(now) {
		return ErrNotDue
	}
	return nil
}

// SettlementWindow returns [lastRun, now], or [now-frequency, now] for a first run.
func SettlementWindow(lastRun *time.Time, now time.Time, frequency time.Duration) revenuedomain.Window {
	start := now.Add(-frequency)
	if lastRun != nil && !lastRun.IsZero() && lastRun.Before(now) {
		start = *lastRun
	}
	return revenuedomain.Window{Start: start, End: now}
}
