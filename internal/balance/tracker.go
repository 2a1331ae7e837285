package balance

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"github.com/smallbiznis/settlement/internal/clock"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidAmount  = errors.New("invalid_balance_amount")
	ErrVendorNotFound = errors.New("vendor_not_found")
)

const anomalyReasonUnderflow = "underflow"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Tracker maintains vendors.pending_payout_balance, the sum of manual payouts
// reserved but not yet completed. The balance never goes negative.
type Tracker struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	metrics    *obsmetrics.SettlementMetrics
}

// ReleaseResult reports what Release did. Anomaly is set when the balance was
// smaller than the amount and had to be floored at zero.
type ReleaseResult struct {
	Previous int64
	Released int64
	Balance  int64
	Anomaly  bool
}

func NewTracker(p Params) *Tracker {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Tracker{
		db:         p.DB,
		log:        p.Log.Named("balance.tracker"),
		clock:      clk,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		metrics:    obsmetrics.Settlement(),
	}
}

// Reserve adds amount to the vendor balance inside tx.
func (t *Tracker) Reserve(ctx context.Context, tx *gorm.DB, vendorID snowflake.ID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE vendors
		 SET pending_payout_balance = pending_payout_balance + ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		t.clock.Now(),
		vendorID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVendorNotFound
	}
	return nil
}

// Release subtracts amount from the vendor balance inside tx. An underflow is
// floored at zero, logged, counted and audited, and returned as an anomaly.
func (t *Tracker) Release(ctx context.Context, tx *gorm.DB, vendorID snowflake.ID, amount int64) (ReleaseResult, error) {
	if amount <= 0 {
		return ReleaseResult{}, ErrInvalidAmount
	}

	var row struct {
		ID                   snowflake.ID
		PendingPayoutBalance int64
	}
	lockStart := time.Now()
	err := tx.WithContext(ctx).
		Table("vendors").
		Select("id", "pending_payout_balance").
		Where("id = ?", vendorID).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Scan(&row).Error
	t.metrics.ObserveDBLockWait(obsmetrics.LockResourceVendorByID, time.Since(lockStart))
	if err != nil {
		return ReleaseResult{}, err
	}
	if row.ID == 0 {
		return ReleaseResult{}, ErrVendorNotFound
	}

	result := ReleaseResult{
		Previous: row.PendingPayoutBalance,
		Released: amount,
		Balance:  row.PendingPayoutBalance - amount,
	}
	if result.Balance < 0 {
		result.Anomaly = true
		result.Released = row.PendingPayoutBalance
		result.Balance = 0
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE vendors SET pending_payout_balance = ?, updated_at = ? WHERE id = ?`,
		result.Balance,
		t.clock.Now(),
		vendorID,
	).Error; err != nil {
		return ReleaseResult{}, err
	}

	if result.Anomaly {
		t.log.Error("balance.underflow",
			zap.String("vendor_id", vendorID.String()),
			zap.Int64("balance", result.Previous),
			zap.Int64("requested_release", amount),
		)
		t.metrics.IncBalanceUnderflow()
		t.obsMetrics.RecordBalanceAnomaly(ctx, anomalyReasonUnderflow)
		if t.auditSvc != nil {
			if err := t.auditSvc.AuditLog(ctx, tx, auditdomain.Entry{
				Action:     "balance.underflow",
				TargetType: "vendor",
				TargetID:   vendorID.String(),
				Metadata: map[string]any{
					"balance":           result.Previous,
					"requested_release": amount,
				},
			}); err != nil {
				return ReleaseResult{}, err
			}
		}
	}
	return result, nil
}

func (t *Tracker) Get(ctx context.Context, vendorID snowflake.ID) (int64, error) {
	var row struct {
		ID                   snowflake.ID
		PendingPayoutBalance int64
	}
	if err := t.db.WithContext(ctx).Raw(
		`SELECT id, pending_payout_balance FROM vendors WHERE id = ?`,
		vendorID,
	).Scan(&row).Error; err != nil {
		return 0, err
	}
	if row.ID == 0 {
		return 0, ErrVendorNotFound
	}
	return row.PendingPayoutBalance, nil
}

// Outstanding sums every vendor's in-flight balance.
func (t *Tracker) Outstanding(ctx context.Context) (int64, error) {
	var total int64
	err := t.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(pending_payout_balance), 0) FROM vendors`,
	).Scan(&total).Error
	return total, err
}
