package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
)

const (
	SkipNoEligibleRevenue = "no_eligible_revenue"
	SkipBelowMinimum      = "below_minimum"
)

// SettleRequest drives one batcher run for a vendor or cabin scope.
type SettleRequest struct {
	VendorID snowflake.ID
	CabinID  *snowflake.ID
	// ExcludeCabinIDs leaves out revenue of these cabins on a vendor-wide run.
	ExcludeCabinIDs []snowflake.ID
	Type            BatchType
	// Window bounds auto runs; only Window.End filters events.
	Window revenuedomain.Window
	// EventIDs pins a manual request to specific events.
	EventIDs        []snowflake.ID
	RequestedAmount int64
	Notes           string
}

// Totals are the amounts of a candidate set or a batch.
type Totals struct {
	Gross      int64 `json:"gross_amount"`
	Commission int64 `json:"commission_amount"`
	Net        int64 `json:"net_amount"`
	EventCount int   `json:"event_count"`
}

// Outcome is the result of Settle. Batch is nil when the run was skipped.
type Outcome struct {
	Batch     *Batch `json:"batch,omitempty"`
	Skipped   string `json:"skipped,omitempty"`
	Totals    Totals `json:"totals"`
	ManualFee int64  `json:"manual_fee"`
}

type Batcher interface {
	Settle(ctx context.Context, req SettleRequest) (Outcome, error)
}

type ManualPayoutRequest struct {
	VendorID        string   `json:"-"`
	RequestedAmount int64    `json:"requested_amount"`
	RevenueEventIDs []string `json:"revenue_event_ids"`
	CabinID         string   `json:"cabin_id"`
}

type FeeBreakdown struct {
	Requested int64  `json:"requested_amount"`
	Fee       int64  `json:"fee"`
	FeeType   string `json:"fee_type,omitempty"`
	FeeValue  string `json:"fee_value,omitempty"`
	FinalNet  int64  `json:"final_net"`
	Available int64  `json:"available_amount"`
}

type ManualPayoutResponse struct {
	Batch     Batch        `json:"batch"`
	Breakdown FeeBreakdown `json:"breakdown"`
}

type VendorSummary struct {
	VendorID             snowflake.ID `json:"vendor_id"`
	AvailableNet         int64        `json:"available_net"`
	EligibleEventCount   int          `json:"eligible_event_count"`
	PendingPayoutBalance int64        `json:"pending_payout_balance"`
	OpenBatches          OpenTotals   `json:"open_batches"`
}

type ListBatchesRequest struct {
	pagination.Pagination
	Status   string     `form:"status"`
	VendorID string     `form:"vendor_id"`
	Type     string     `form:"type"`
	From     *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To       *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListBatchesResponse struct {
	pagination.PageInfo
	Batches []Batch `json:"batches"`
}

type ManualService interface {
	Request(ctx context.Context, req ManualPayoutRequest) (ManualPayoutResponse, error)
	Preview(ctx context.Context, req ManualPayoutRequest) (FeeBreakdown, error)
	Summary(ctx context.Context, vendorID string) (VendorSummary, error)
	History(ctx context.Context, vendorID string, req ListBatchesRequest) (ListBatchesResponse, error)
}

type TransitionRequest struct {
	BatchID       string  `json:"-"`
	Status        string  `json:"status"`
	TransactionID *string `json:"transaction_id"`
	Notes         *string `json:"notes"`
}

type BatchDetail struct {
	Batch Batch  `json:"batch"`
	Items []Item `json:"items"`
}

type ReconcileResult struct {
	BatchID snowflake.ID `json:"batch_id"`
	Stored  Totals       `json:"stored"`
	Items   Totals       `json:"items"`
}

type LifecycleService interface {
	Transition(ctx context.Context, req TransitionRequest) (Batch, error)
	List(ctx context.Context, req ListBatchesRequest) (ListBatchesResponse, error)
	Get(ctx context.Context, id string) (BatchDetail, error)
	Reconcile(ctx context.Context, id string) (ReconcileResult, error)
}
