package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/vendors/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const vendorColumns = `id, name, status, is_active,
	commission_type, commission_value,
	auto_payout_enabled, payout_frequency_days, last_auto_payout_at, next_auto_payout_at,
	per_cabin_payout, minimum_payout_amount,
	manual_fee_enabled, manual_fee_type, manual_fee_value,
	pending_payout_balance, bank_details, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Vendor, error) {
	var vendor domain.Vendor
	err := db.WithContext(ctx).Raw(
		`SELECT `+vendorColumns+`
		 FROM vendors WHERE id = ?`,
		id,
	).Scan(&vendor).Error
	if err != nil {
		return nil, err
	}
	if vendor.ID == 0 {
		return nil, nil
	}
	vendor.Resolve()
	return &vendor, nil
}

var vendorProfileColumns = []string{
	"name", "status", "is_active",
	"commission_type", "commission_value",
	"auto_payout_enabled", "payout_frequency_days",
	"per_cabin_payout", "minimum_payout_amount",
	"manual_fee_enabled", "manual_fee_type", "manual_fee_value",
	"bank_details", "updated_at",
}

// Upsert writes the profile. The payout balance and last run are owned by settlement
// and never overwritten; an omitted next run keeps the current schedule.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, vendor *domain.Vendor) error {
	row := *vendor
	row.PendingPayoutBalance = 0
	row.LastAutoPayoutAt = nil

	columns := vendorProfileColumns
	if row.NextAutoPayoutAt != nil {
		columns = append(columns[:len(columns):len(columns)], "next_auto_payout_at")
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).
		Create(&row).Error
}

func (r *repo) AdvanceSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, now, next time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE vendors
		 SET last_auto_payout_at = ?, next_auto_payout_at = ?, updated_at = ?
		 WHERE id = ?
		   AND (next_auto_payout_at IS NULL OR next_auto_payout_at <= ?)`,
		now,
		next,
		now,
		id,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) RestoreSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, advancedTo time.Time, last, next *time.Time, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE vendors
		 SET last_auto_payout_at = ?, next_auto_payout_at = ?, updated_at = ?
		 WHERE id = ? AND next_auto_payout_at = ?`,
		last,
		next,
		now,
		id,
		advancedTo,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindCabin(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Cabin, error) {
	var cabin domain.Cabin
	err := db.WithContext(ctx).Raw(
		`SELECT id, vendor_id, name, is_active, created_at, updated_at
		 FROM cabins WHERE id = ?`,
		id,
	).Scan(&cabin).Error
	if err != nil {
		return nil, err
	}
	if cabin.ID == 0 {
		return nil, nil
	}
	return &cabin, nil
}

func (r *repo) UpsertCabin(ctx context.Context, db *gorm.DB, cabin *domain.Cabin) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"vendor_id", "name", "is_active", "updated_at"}),
		}).
		Create(cabin).Error
}

func (r *repo) ListActiveCabins(ctx context.Context, db *gorm.DB, vendorID snowflake.ID) ([]domain.Cabin, error) {
	var cabins []domain.Cabin
	err := db.WithContext(ctx).Raw(
		`SELECT id, vendor_id, name, is_active, created_at, updated_at
		 FROM cabins
		 WHERE vendor_id = ? AND is_active = ?
		 ORDER BY id`,
		vendorID,
		true,
	).Scan(&cabins).Error
	if err != nil {
		return nil, err
	}
	return cabins, nil
}
