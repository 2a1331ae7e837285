package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Vendor, error)
	Upsert(ctx context.Context, db *gorm.DB, vendor *Vendor) error
	// AdvanceSchedule moves the auto payout schedule forward only while it is still due at now.
	AdvanceSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, now, next time.Time) (bool, error)
	// RestoreSchedule undoes an advance to advancedTo. It is a no-op once the schedule moved again.
	RestoreSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, advancedTo time.Time, last, next *time.Time, now time.Time) (bool, error)

	FindCabin(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Cabin, error)
	UpsertCabin(ctx context.Context, db *gorm.DB, cabin *Cabin) error
	ListActiveCabins(ctx context.Context, db *gorm.DB, vendorID snowflake.ID) ([]Cabin, error)
}
