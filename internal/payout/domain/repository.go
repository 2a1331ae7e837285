package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, batch *Batch) error
	InsertItems(ctx context.Context, tx *gorm.DB, items []Item) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	ListItems(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]Item, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Batch, error)
	// TransitionStatus moves the batch to "to" only while its status is one of from.
	TransitionStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, to BatchStatus, from []BatchStatus, fields TransitionFields, now time.Time) (bool, error)
	OpenTotals(ctx context.Context, db *gorm.DB, vendorID snowflake.ID) (OpenTotals, error)
}
