package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the revenue ledger. Claim and Release must run inside the
// caller's transaction so batch membership commits atomically with the batch.
type Repository interface {
	// Insert stores the event unless its external_ref already exists.
	Insert(ctx context.Context, db *gorm.DB, event *RevenueEvent) (bool, error)
	FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*RevenueEvent, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]RevenueEvent, error)

	FindEligible(ctx context.Context, db *gorm.DB, scope Scope, end time.Time) ([]RevenueEvent, error)
	FindEligibleByIDs(ctx context.Context, db *gorm.DB, scope Scope, ids []snowflake.ID) ([]RevenueEvent, error)
	Claim(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, batchID snowflake.ID, now time.Time) error
	Release(ctx context.Context, tx *gorm.DB, batchID snowflake.ID, now time.Time) (int64, error)
	ListByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]RevenueEvent, error)

	MarkRefunded(ctx context.Context, db *gorm.DB, externalRef string, now time.Time) (bool, error)
	SumPendingGross(ctx context.Context, db *gorm.DB) (int64, error)
}
