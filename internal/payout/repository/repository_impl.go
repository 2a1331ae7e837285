package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/payout/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const batchColumns = `id, vendor_id, cabin_id, type, status,
	gross_amount, commission_amount, net_amount, requested_amount, manual_fee, fee_description,
	period_start, period_end, bank_details, requested_at, processed_at, transaction_id, notes,
	created_at, updated_at`

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, batch *domain.Batch) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO payout_batches (`+batchColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.VendorID,
		batch.CabinID,
		batch.Type,
		batch.Status,
		batch.GrossAmount,
		batch.CommissionAmount,
		batch.NetAmount,
		batch.RequestedAmount,
		batch.ManualFee,
		batch.FeeDescription,
		batch.PeriodStart,
		batch.PeriodEnd,
		batch.BankDetails,
		batch.RequestedAt,
		batch.ProcessedAt,
		batch.TransactionID,
		batch.Notes,
		batch.CreatedAt,
		batch.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, tx *gorm.DB, items []domain.Item) error {
	for _, item := range items {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO payout_items (batch_id, revenue_event_id, gross_amount, commission_amount, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			item.BatchID,
			item.RevenueEventID,
			item.GrossAmount,
			item.CommissionAmount,
			item.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	err := db.WithContext(ctx).Raw(
		`SELECT `+batchColumns+`
		 FROM payout_batches WHERE id = ?`,
		id,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]domain.Item, error) {
	var items []domain.Item
	err := db.WithContext(ctx).Raw(
		`SELECT batch_id, revenue_event_id, gross_amount, commission_amount, created_at
		 FROM payout_items WHERE batch_id = ?
		 ORDER BY revenue_event_id`,
		batchID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Batch, error) {
	stmt := db.WithContext(ctx).Model(&domain.Batch{})
	if filter.VendorID != nil {
		stmt = stmt.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	if filter.From != nil {
		stmt = stmt.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		stmt = stmt.Where("created_at <= ?", *filter.To)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var batches []domain.Batch
	if err := stmt.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repo) TransitionStatus(
	ctx context.Context,
	tx *gorm.DB,
	id snowflake.ID,
	to domain.BatchStatus,
	from []domain.BatchStatus,
	fields domain.TransitionFields,
	now time.Time,
) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE payout_batches
		 SET status = ?,
		     processed_at = COALESCE(?, processed_at),
		     transaction_id = COALESCE(?, transaction_id),
		     notes = COALESCE(?, notes),
		     updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to,
		fields.ProcessedAt,
		fields.TransactionID,
		fields.Notes,
		now,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) OpenTotals(ctx context.Context, db *gorm.DB, vendorID snowflake.ID) (domain.OpenTotals, error) {
	var totals domain.OpenTotals
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count, COALESCE(SUM(net_amount), 0) AS amount
		 FROM payout_batches
		 WHERE vendor_id = ? AND status IN ?`,
		vendorID,
		[]domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing},
	).Scan(&totals).Error
	return totals, err
}
