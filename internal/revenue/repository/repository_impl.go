package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/revenue/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const eventColumns = `id, external_ref, vendor_id, cabin_id, gross_amount, commission_amount,
	payment_status, payout_status, payout_id, occurred_at, created_at, updated_at`

// Insert stores event unless its external_ref is already known. The returned
// flag is false for a duplicate delivery.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.RevenueEvent) (bool, error) {
	row := *event
	row.PayoutID = nil
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_ref"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*domain.RevenueEvent, error) {
	var event domain.RevenueEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM revenue_events WHERE external_ref = ?`,
		externalRef,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.RevenueEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var events []domain.RevenueEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM revenue_events WHERE id IN ?
		 ORDER BY occurred_at, id`,
		ids,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// FindEligible returns completed, unsettled events in scope up to end. There is
// no lower bound, so events skipped by an earlier run stay reachable.
func (r *repo) FindEligible(ctx context.Context, db *gorm.DB, scope domain.Scope, end time.Time) ([]domain.RevenueEvent, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.RevenueEvent{}).
		Where("vendor_id = ?", scope.VendorID).
		Where("payment_status = ?", domain.PaymentStatusCompleted).
		Where("payout_status = ?", domain.PayoutStatusPending).
		Where("occurred_at <= ?", end)
	if scope.IsCabin() {
		stmt = stmt.Where("cabin_id = ?", *scope.CabinID)
	} else if len(scope.ExcludeCabinIDs) > 0 {
		stmt = stmt.Where("cabin_id NOT IN ?", scope.ExcludeCabinIDs)
	}

	var events []domain.RevenueEvent
	if err := stmt.Order("occurred_at, id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) FindEligibleByIDs(ctx context.Context, db *gorm.DB, scope domain.Scope, ids []snowflake.ID) ([]domain.RevenueEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stmt := db.WithContext(ctx).
		Model(&domain.RevenueEvent{}).
		Where("id IN ?", ids).
		Where("vendor_id = ?", scope.VendorID).
		Where("payment_status = ?", domain.PaymentStatusCompleted).
		Where("payout_status = ?", domain.PayoutStatusPending)
	if scope.IsCabin() {
		stmt = stmt.Where("cabin_id = ?", *scope.CabinID)
	}

	var events []domain.RevenueEvent
	if err := stmt.Order("occurred_at, id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// Claim marks every id as included in batchID, or none of them. A short update
// means another batch won the race and the caller must roll back.
func (r *repo) Claim(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, batchID snowflake.ID, now time.Time) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE revenue_events
		 SET payout_status = ?, payout_id = ?, updated_at = ?
		 WHERE id IN ? AND payout_status = ? AND payment_status = ?`,
		domain.PayoutStatusIncluded,
		batchID,
		now,
		ids,
		domain.PayoutStatusPending,
		domain.PaymentStatusCompleted,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != int64(len(ids)) {
		return domain.ErrClaimConflict
	}
	return nil
}

func (r *repo) Release(ctx context.Context, tx *gorm.DB, batchID snowflake.ID, now time.Time) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE revenue_events
		 SET payout_status = ?, payout_id = NULL, updated_at = ?
		 WHERE payout_id = ? AND payout_status = ?`,
		domain.PayoutStatusPending,
		now,
		batchID,
		domain.PayoutStatusIncluded,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ListByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]domain.RevenueEvent, error) {
	var events []domain.RevenueEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM revenue_events WHERE payout_id = ?
		 ORDER BY occurred_at, id`,
		batchID,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, externalRef string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE revenue_events
		 SET payment_status = ?, updated_at = ?
		 WHERE external_ref = ? AND payment_status = ? AND payout_status = ?`,
		domain.PaymentStatusRefunded,
		now,
		externalRef,
		domain.PaymentStatusCompleted,
		domain.PayoutStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SumPendingGross(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(gross_amount), 0)
		 FROM revenue_events
		 WHERE payment_status = ? AND payout_status = ?`,
		domain.PaymentStatusCompleted,
		domain.PayoutStatusPending,
	).Scan(&total).Error
	return total, err
}

func uniqueIDs(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
