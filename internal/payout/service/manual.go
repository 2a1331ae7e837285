package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/authorization"
	"github.com/smallbiznis/settlement/internal/balance"
	"github.com/smallbiznis/settlement/internal/commission"
	"github.com/smallbiznis/settlement/internal/payout/domain"
	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ManualParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Batcher     *Batcher
	Calculator  *commission.Calculator
	Repo        domain.Repository
	VendorRepo  vendordomain.Repository
	VendorSvc   vendordomain.Service
	RevenueRepo revenuedomain.Repository
	Tracker     *balance.Tracker
}

type ManualService struct {
	db          *gorm.DB
	log         *zap.Logger
	batcher     *Batcher
	calc        *commission.Calculator
	repo        domain.Repository
	vendorRepo  vendordomain.Repository
	vendorSvc   vendordomain.Service
	revenueRepo revenuedomain.Repository
	tracker     *balance.Tracker
}

func NewManualService(p ManualParams) domain.ManualService {
	return &ManualService{
		db:          p.DB,
		log:         p.Log.Named("payout.manual"),
		batcher:     p.Batcher,
		calc:        p.Calculator,
		repo:        p.Repo,
		vendorRepo:  p.VendorRepo,
		vendorSvc:   p.VendorSvc,
		revenueRepo: p.RevenueRepo,
		tracker:     p.Tracker,
	}
}

// manualScope is a validated manual request.
type manualScope struct {
	vendor   vendordomain.Vendor
	cabinID  *snowflake.ID
	eventIDs []snowflake.ID
}

func (s *ManualService) Request(ctx context.Context, req domain.ManualPayoutRequest) (domain.ManualPayoutResponse, error) {
	if req.RequestedAmount <= 0 {
		return domain.ManualPayoutResponse{}, domain.ErrInvalidAmount
	}
	scope, err := s.resolve(ctx, req)
	if err != nil {
		return domain.ManualPayoutResponse{}, err
	}

	outcome, err := s.batcher.Settle(ctx, domain.SettleRequest{
		VendorID:        scope.vendor.ID,
		CabinID:         scope.cabinID,
		Type:            domain.BatchTypeManual,
		EventIDs:        scope.eventIDs,
		RequestedAmount: req.RequestedAmount,
	})
	if err != nil {
		return domain.ManualPayoutResponse{}, err
	}
	if outcome.Batch == nil {
		// Nothing eligible means nothing is available to withdraw.
		return domain.ManualPayoutResponse{}, &domain.InsufficientBalanceError{Requested: req.RequestedAmount}
	}

	s.log.Info("manual payout requested",
		zap.String("vendor_id", scope.vendor.ID.String()),
		zap.String("batch_id", outcome.Batch.ID.String()),
		zap.Int64("requested_amount", req.RequestedAmount),
		zap.Int64("fee", outcome.ManualFee),
	)
	return domain.ManualPayoutResponse{
		Batch:     *outcome.Batch,
		Breakdown: breakdown(scope.vendor, req.RequestedAmount, outcome.ManualFee, outcome.Totals.Net),
	}, nil
}

func (s *ManualService) Preview(ctx context.Context, req domain.ManualPayoutRequest) (domain.FeeBreakdown, error) {
	if req.RequestedAmount <= 0 {
		return domain.FeeBreakdown{}, domain.ErrInvalidAmount
	}
	scope, err := s.resolve(ctx, req)
	if err != nil {
		return domain.FeeBreakdown{}, err
	}

	totals, err := s.batcher.Quote(ctx, scope.vendor, scope.cabinID, scope.eventIDs)
	if err != nil {
		return domain.FeeBreakdown{}, err
	}
	if req.RequestedAmount > totals.Net {
		return domain.FeeBreakdown{}, &domain.InsufficientBalanceError{Requested: req.RequestedAmount, Available: totals.Net}
	}
	fee := s.calc.ComputeManualFee(scope.vendor.ManualFee(), req.RequestedAmount)
	return breakdown(scope.vendor, req.RequestedAmount, fee, totals.Net), nil
}

func (s *ManualService) Summary(ctx context.Context, vendorID string) (domain.VendorSummary, error) {
	id, err := parseID(vendorID, domain.ErrInvalidVendor)
	if err != nil {
		return domain.VendorSummary{}, err
	}
	vendor, err := s.vendorRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.VendorSummary{}, err
	}
	if vendor == nil {
		return domain.VendorSummary{}, vendordomain.ErrNotFound
	}

	totals, err := s.batcher.Quote(ctx, *vendor, nil, nil)
	if err != nil {
		return domain.VendorSummary{}, err
	}
	pending, err := s.tracker.Get(ctx, vendor.ID)
	if err != nil {
		if errors.Is(err, balance.ErrVendorNotFound) {
			return domain.VendorSummary{}, vendordomain.ErrNotFound
		}
		return domain.VendorSummary{}, err
	}
	open, err := s.repo.OpenTotals(ctx, s.db, vendor.ID)
	if err != nil {
		return domain.VendorSummary{}, err
	}

	return domain.VendorSummary{
		VendorID:             vendor.ID,
		AvailableNet:         totals.Net,
		EligibleEventCount:   totals.EventCount,
		PendingPayoutBalance: pending,
		OpenBatches:          open,
	}, nil
}

func (s *ManualService) History(ctx context.Context, vendorID string, req domain.ListBatchesRequest) (domain.ListBatchesResponse, error) {
	id, err := parseID(vendorID, domain.ErrInvalidVendor)
	if err != nil {
		return domain.ListBatchesResponse{}, err
	}
	filter, err := listFilter(req)
	if err != nil {
		return domain.ListBatchesResponse{}, err
	}
	filter.VendorID = &id
	return listBatches(ctx, s.repo, s.db, filter)
}

// resolve checks that the vendor may withdraw and that every referenced cabin
// and event belongs to it.
func (s *ManualService) resolve(ctx context.Context, req domain.ManualPayoutRequest) (manualScope, error) {
	vendorID, err := parseID(req.VendorID, domain.ErrInvalidVendor)
	if err != nil {
		return manualScope{}, err
	}
	vendor, err := s.vendorRepo.FindByID(ctx, s.db, vendorID)
	if err != nil {
		return manualScope{}, err
	}
	if vendor == nil {
		return manualScope{}, vendordomain.ErrNotFound
	}
	if !vendor.Eligible() {
		return manualScope{}, vendordomain.ErrVendorNotEligible
	}

	scope := manualScope{vendor: *vendor}
	if cabin := strings.TrimSpace(req.CabinID); cabin != "" {
		cabinID, err := parseID(cabin, domain.ErrInvalidID)
		if err != nil {
			return manualScope{}, err
		}
		owner, err := s.vendorSvc.CabinOwner(ctx, cabinID)
		if err != nil {
			return manualScope{}, err
		}
		if owner != vendor.ID {
			return manualScope{}, authorization.ErrForbidden
		}
		scope.cabinID = &cabinID
	}

	if len(req.RevenueEventIDs) == 0 {
		return scope, nil
	}
	ids := make([]snowflake.ID, 0, len(req.RevenueEventIDs))
	for _, raw := range req.RevenueEventIDs {
		id, err := parseID(raw, domain.ErrInvalidID)
		if err != nil {
			return manualScope{}, err
		}
		ids = append(ids, id)
	}
	events, err := s.revenueRepo.FindByIDs(ctx, s.db, ids)
	if err != nil {
		return manualScope{}, err
	}
	for _, event := range events {
		if event.VendorID != vendor.ID {
			s.log.Warn("manual payout references foreign revenue event",
				zap.String("vendor_id", vendor.ID.String()),
				zap.String("revenue_event_id", event.ID.String()),
			)
			return manualScope{}, authorization.ErrForbidden
		}
	}
	scope.eventIDs = ids
	return scope, nil
}

func breakdown(vendor vendordomain.Vendor, requested, fee, available int64) domain.FeeBreakdown {
	out := domain.FeeBreakdown{
		Requested: requested,
		Fee:       fee,
		FinalNet:  requested - fee,
		Available: available,
	}
	if manualFee := vendor.ManualFee(); manualFee.Enabled {
		out.FeeType = string(manualFee.Type)
		out.FeeValue = manualFee.Value.String()
	}
	return out
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, invalid
	}
	return id, nil
}

func listFilter(req domain.ListBatchesRequest) (domain.ListFilter, error) {
	filter := domain.ListFilter{Limit: req.Limit(), From: req.From, To: req.To}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status, ok := domain.ParseBatchStatus(raw)
		if !ok {
			return domain.ListFilter{}, domain.ErrInvalidStatus
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(req.Type); raw != "" {
		batchType, ok := domain.ParseBatchType(raw)
		if !ok {
			return domain.ListFilter{}, domain.ErrInvalidType
		}
		filter.Type = batchType
	}
	if raw := strings.TrimSpace(req.VendorID); raw != "" {
		id, err := parseID(raw, domain.ErrInvalidVendor)
		if err != nil {
			return domain.ListFilter{}, err
		}
		filter.VendorID = &id
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.ListFilter{}, domain.ErrInvalidDateRange
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListFilter{}, domain.ErrInvalidPageToken
	}
	if cursor != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return domain.ListFilter{}, domain.ErrInvalidPageToken
		}
		id, err := parseID(cursor.ID, domain.ErrInvalidPageToken)
		if err != nil {
			return domain.ListFilter{}, err
		}
		filter.Cursor = &domain.BatchCursor{ID: id, CreatedAt: createdAt}
	}
	return filter, nil
}

func listBatches(ctx context.Context, repo domain.Repository, db *gorm.DB, filter domain.ListFilter) (domain.ListBatchesResponse, error) {
	batches, err := repo.List(ctx, db, filter)
	if err != nil {
		return domain.ListBatchesResponse{}, err
	}
	page, info, err := pagination.Trim(batches, filter.Limit, func(b domain.Batch) pagination.Cursor {
		return pagination.Cursor{ID: b.ID.String(), CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})
	if err != nil {
		return domain.ListBatchesResponse{}, err
	}
	if page == nil {
		page = []domain.Batch{}
	}
	return domain.ListBatchesResponse{PageInfo: info, Batches: page}, nil
}
