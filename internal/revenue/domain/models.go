package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusIncluded PayoutStatus = "included"
)

// RevenueEvent is one completed booking payment owed to a vendor.
// PayoutStatus and PayoutID are the only settlement state it carries.
type RevenueEvent struct {
	ID               snowflake.ID  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ExternalRef      string        `gorm:"type:text;not null;uniqueIndex" json:"external_ref"`
	VendorID         snowflake.ID  `gorm:"not null;index" json:"vendor_id"`
	CabinID          snowflake.ID  `gorm:"not null;index" json:"cabin_id"`
	GrossAmount      int64         `gorm:"not null" json:"gross_amount"`
	CommissionAmount *int64        `json:"commission_amount,omitempty"`
	PaymentStatus    PaymentStatus `gorm:"type:text;not null" json:"payment_status"`
	PayoutStatus     PayoutStatus  `gorm:"type:text;not null;index" json:"payout_status"`
	PayoutID         *snowflake.ID `gorm:"index" json:"payout_id,omitempty"`
	OccurredAt       time.Time     `gorm:"not null;index" json:"occurred_at"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
}

func (RevenueEvent) TableName() string { return "revenue_events" }

// Scope narrows settlement to a vendor, or to one of its cabins. A vendor-wide
// scope may exclude cabins that are settled on their own.
type Scope struct {
	VendorID        snowflake.ID
	CabinID         *snowflake.ID
	ExcludeCabinIDs []snowflake.ID
}

func (s Scope) IsCabin() bool { return s.CabinID != nil && *s.CabinID != 0 }

// Window is a settlement period. Only End filters eligibility; Start is recorded
// on the batch for display.
type Window struct {
	Start time.Time
	End   time.Time
}
