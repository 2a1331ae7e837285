package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type BatchType string

const (
	BatchTypeAuto   BatchType = "auto"
	BatchTypeManual BatchType = "manual"
)

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

func ParseBatchStatus(raw string) (BatchStatus, bool) {
	switch BatchStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case BatchStatusPending:
		return BatchStatusPending, true
	case BatchStatusProcessing:
		return BatchStatusProcessing, true
	case BatchStatusCompleted:
		return BatchStatusCompleted, true
	case BatchStatusFailed:
		return BatchStatusFailed, true
	case BatchStatusCancelled:
		return BatchStatusCancelled, true
	default:
		return "", false
	}
}

func ParseBatchType(raw string) (BatchType, bool) {
	switch BatchType(strings.ToLower(strings.TrimSpace(raw))) {
	case BatchTypeAuto:
		return BatchTypeAuto, true
	case BatchTypeManual:
		return BatchTypeManual, true
	default:
		return "", false
	}
}

func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed || s == BatchStatusCancelled
}

// Releasing reports whether reaching s hands the batch's events back to the ledger.
func (s BatchStatus) Releasing() bool {
	return s == BatchStatusFailed || s == BatchStatusCancelled
}

// AllowedFrom lists the states a batch may move to s from.
func (s BatchStatus) AllowedFrom() []BatchStatus {
	switch s {
	case BatchStatusProcessing:
		return []BatchStatus{BatchStatusPending}
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return []BatchStatus{BatchStatusPending, BatchStatusProcessing}
	default:
		return nil
	}
}

// Batch is one payout to a vendor. Its membership in payout_items is fixed at creation.
type Batch struct {
	ID               snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	VendorID         snowflake.ID      `gorm:"not null;index" json:"vendor_id"`
	CabinID          *snowflake.ID     `json:"cabin_id,omitempty"`
	Type             BatchType         `gorm:"type:text;not null" json:"type"`
	Status           BatchStatus       `gorm:"type:text;not null;index" json:"status"`
	GrossAmount      int64             `gorm:"not null" json:"gross_amount"`
	CommissionAmount int64             `gorm:"not null" json:"commission_amount"`
	NetAmount        int64             `gorm:"not null" json:"net_amount"`
	RequestedAmount  *int64            `json:"requested_amount,omitempty"`
	ManualFee        int64             `gorm:"not null" json:"manual_fee"`
	FeeDescription   *string           `gorm:"type:text" json:"fee_description,omitempty"`
	PeriodStart      *time.Time        `json:"period_start,omitempty"`
	PeriodEnd        *time.Time        `json:"period_end,omitempty"`
	BankDetails      datatypes.JSONMap `gorm:"type:jsonb" json:"bank_details,omitempty"`
	RequestedAt      time.Time         `gorm:"not null" json:"requested_at"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
	TransactionID    *string           `gorm:"type:text" json:"transaction_id,omitempty"`
	Notes            *string           `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null" json:"updated_at"`
}

func (Batch) TableName() string { return "payout_batches" }

// Item records that a revenue event belongs to a batch, with the amounts used.
type Item struct {
	BatchID          snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"batch_id"`
	RevenueEventID   snowflake.ID `gorm:"primaryKey;autoIncrement:false;index" json:"revenue_event_id"`
	GrossAmount      int64        `gorm:"not null" json:"gross_amount"`
	CommissionAmount int64        `gorm:"not null" json:"commission_amount"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
}

func (Item) TableName() string { return "payout_items" }

// BatchCursor orders listings by created_at desc, id desc.
type BatchCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	VendorID *snowflake.ID
	Status   BatchStatus
	Type     BatchType
	From     *time.Time
	To       *time.Time
	Cursor   *BatchCursor
	Limit    int
}

// TransitionFields are written together with a status change.
type TransitionFields struct {
	ProcessedAt   *time.Time
	TransactionID *string
	Notes         *string
}

// OpenTotals summarizes a vendor's pending and processing batches.
type OpenTotals struct {
	Count  int64 `json:"count"`
	Amount int64 `json:"amount"`
}
