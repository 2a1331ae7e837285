package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obslogger "github.com/smallbiznis/settlement/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	"github.com/smallbiznis/settlement/internal/scheduler/guard"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DueVendor is a vendor whose auto payout schedule was claimed by this run.
// LastAutoPayoutAt and NextAutoPayoutAt hold the schedule before it was advanced.
type DueVendor struct {
	ID                  snowflake.ID
	Status              vendordomain.Status
	IsActive            bool
	AutoPayoutEnabled   bool
	PerCabinPayout      bool
	PayoutFrequencyDays int
	LastAutoPayoutAt    *time.Time
	NextAutoPayoutAt    *time.Time

	advancedTo time.Time
}

func (v DueVendor) frequency(defaultDays int) time.Duration {
	return vendordomain.AutoPayoutSettings{FrequencyDays: v.PayoutFrequencyDays}.Frequency(defaultDays)
}

// claimDueVendors locks up to limit due vendors, advances their schedule and
// returns them. Rows held by a concurrent sweep are skipped. The advance commits
// before settlement starts and acts as a lease: vendors the run does not finish
// get their previous schedule back through restoreSchedules.
func (s *Scheduler) claimDueVendors(ctx context.Context, now time.Time, limit, defaultDays int) ([]DueVendor, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var claimed []DueVendor
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		claimed = claimed[:0]

		var rows []DueVendor
		lockStart := time.Now()
		err := tx.WithContext(claimCtx).
			Table("vendors").
			Select("id", "status", "is_active", "auto_payout_enabled", "per_cabin_payout",
				"payout_frequency_days", "last_auto_payout_at", "next_auto_payout_at").
			Where("auto_payout_enabled = ? AND status = ? AND is_active = ?", true, vendordomain.StatusApproved, true).
			Where("(next_auto_payout_at IS NULL OR next_auto_payout_at <= ?)", now).
			Order("id").
			Limit(limit).
			Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
			Scan(&rows).Error
		s.metrics.ObserveDBLockWait(obsmetrics.LockResourceDueVendors, time.Since(lockStart))
		if err != nil {
			return err
		}

		for _, row := range rows {
			if err := guard.EnsureVendorDue(row.Status, row.IsActive, row.AutoPayoutEnabled, row.NextAutoPayoutAt, now); err != nil {
				s.log.Debug("vendor no longer due", zap.String("vendor_id", row.ID.String()), zap.Error(err))
				continue
			}
			next := now.Add(row.frequency(defaultDays))
			advanced, err := s.vendorRepo.AdvanceSchedule(claimCtx, tx, row.ID, now, next)
			if err != nil {
				return err
			}
			if advanced {
				row.advancedTo = next
				claimed = append(claimed, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// restoreSchedules hands unfinished vendors their previous schedule back so the
// next tick finds them due again. It runs even when the sweep was cancelled.
func (s *Scheduler) restoreSchedules(ctx context.Context, vendors []DueVendor) {
	if len(vendors) == 0 {
		return
	}
	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	now := s.clock.Now()
	for _, vendor := range vendors {
		log := obslogger.WithVendor(s.logger(ctx), vendor.ID.String(), "")
		restored, err := s.vendorRepo.RestoreSchedule(restoreCtx, s.db, vendor.ID, vendor.advancedTo,
			vendor.LastAutoPayoutAt, vendor.NextAutoPayoutAt, now)
		switch {
		case err != nil:
			log.Error("failed to restore auto payout schedule", zap.Error(err))
		case !restored:
			log.Warn("auto payout schedule changed during the run, leaving it as is")
		default:
			log.Info("auto payout schedule restored, vendor retried next sweep")
		}
	}
}
