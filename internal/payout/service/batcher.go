package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"github.com/smallbiznis/settlement/internal/balance"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/commission"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/lock"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	"github.com/smallbiznis/settlement/internal/payout/domain"
	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BatcherParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      *config.SettlementConfigHolder
	Locker      lock.ScopeLocker
	Calculator  *commission.Calculator
	Repo        domain.Repository
	VendorRepo  vendordomain.Repository
	RevenueRepo revenuedomain.Repository
	Tracker     *balance.Tracker
	AuditSvc    auditdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Batcher turns eligible revenue events into payout batches. Each run holds the
// vendor scope lock, and the claim inside the batch transaction is the final
// guard against double inclusion.
type Batcher struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         *config.SettlementConfigHolder
	locker      lock.ScopeLocker
	calc        *commission.Calculator
	repo        domain.Repository
	vendorRepo  vendordomain.Repository
	revenueRepo revenuedomain.Repository
	tracker     *balance.Tracker
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
	metrics     *obsmetrics.SettlementMetrics
}

func NewBatcher(p BatcherParams) *Batcher {
	return &Batcher{
		db:          p.DB,
		log:         p.Log.Named("payout.batcher"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Config,
		locker:      p.Locker,
		calc:        p.Calculator,
		repo:        p.Repo,
		vendorRepo:  p.VendorRepo,
		revenueRepo: p.RevenueRepo,
		tracker:     p.Tracker,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
		metrics:     obsmetrics.Settlement(),
	}
}

func (b *Batcher) Settle(ctx context.Context, req domain.SettleRequest) (domain.Outcome, error) {
	if req.VendorID <= 0 {
		return domain.Outcome{}, domain.ErrInvalidVendor
	}
	switch req.Type {
	case domain.BatchTypeAuto:
	case domain.BatchTypeManual:
		if req.RequestedAmount <= 0 {
			return domain.Outcome{}, domain.ErrInvalidAmount
		}
	default:
		return domain.Outcome{}, domain.ErrInvalidType
	}

	cfg := b.cfg.Get()
	key := lock.VendorScopeKey(req.VendorID)
	token, ok, err := b.locker.TryLock(ctx, key, cfg.LockTTL)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("acquire scope lock: %w", err)
	}
	if !ok {
		b.recordOutcome(ctx, req.Type, obsmetrics.BatchOutcomeScopeBusy, 0)
		return domain.Outcome{}, domain.ErrScopeBusy
	}
	defer func() {
		if err := b.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			b.log.Warn("failed to release scope lock", zap.String("key", key), zap.Error(err))
		}
	}()

	vendor, err := b.vendorRepo.FindByID(ctx, b.db, req.VendorID)
	if err != nil {
		return domain.Outcome{}, err
	}
	if vendor == nil {
		return domain.Outcome{}, vendordomain.ErrNotFound
	}
	if !vendor.Eligible() {
		b.recordOutcome(ctx, req.Type, obsmetrics.BatchOutcomeRejected, 0)
		return domain.Outcome{}, vendordomain.ErrVendorNotEligible
	}

	for attempt := 0; ; attempt++ {
		outcome, err := b.settleOnce(ctx, *vendor, req)
		if errors.Is(err, revenuedomain.ErrClaimConflict) && attempt < cfg.ClaimRetries {
			b.metrics.IncClaimRetry()
			b.log.Warn("revenue claim conflict, recomputing candidates",
				zap.String("vendor_id", req.VendorID.String()),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		switch {
		case err == nil && outcome.Batch != nil:
			b.recordOutcome(ctx, req.Type, obsmetrics.BatchOutcomeCreated, outcome.Batch.NetAmount)
		case err == nil:
			b.recordOutcome(ctx, req.Type, outcome.Skipped, 0)
		case errors.Is(err, revenuedomain.ErrClaimConflict):
			b.recordOutcome(ctx, req.Type, obsmetrics.BatchOutcomeClaimConflict, 0)
			b.log.Error("revenue claim conflict persisted after retry",
				zap.String("vendor_id", req.VendorID.String()),
				zap.Error(err),
			)
		case errors.Is(err, domain.ErrInsufficientBalance):
			b.recordOutcome(ctx, req.Type, obsmetrics.BatchOutcomeRejected, 0)
		}
		return outcome, err
	}
}

func (b *Batcher) settleOnce(ctx context.Context, vendor vendordomain.Vendor, req domain.SettleRequest) (domain.Outcome, error) {
	now := b.clock.Now()
	scope := revenuedomain.Scope{VendorID: vendor.ID, CabinID: req.CabinID, ExcludeCabinIDs: req.ExcludeCabinIDs}

	candidates, err := b.candidates(ctx, b.db, scope, req, now)
	if err != nil {
		return domain.Outcome{}, err
	}
	if len(candidates) == 0 {
		return domain.Outcome{Skipped: domain.SkipNoEligibleRevenue}, nil
	}

	totals, items := b.totals(vendor, candidates)
	outcome := domain.Outcome{Totals: totals}

	var net, fee int64
	var requested *int64
	var feeDescription *string
	switch req.Type {
	case domain.BatchTypeAuto:
		net = totals.Net
		if net < vendor.AutoPayoutSettings().MinimumPayoutAmount {
			outcome.Skipped = domain.SkipBelowMinimum
			b.log.Info("auto payout below minimum",
				zap.String("vendor_id", vendor.ID.String()),
				zap.Int64("net_amount", net),
				zap.Int64("minimum_payout_amount", vendor.AutoPayoutSettings().MinimumPayoutAmount),
			)
			return outcome, nil
		}
	case domain.BatchTypeManual:
		if req.RequestedAmount > totals.Net {
			return outcome, &domain.InsufficientBalanceError{Requested: req.RequestedAmount, Available: totals.Net}
		}
		fee = b.calc.ComputeManualFee(vendor.ManualFee(), req.RequestedAmount)
		net = req.RequestedAmount - fee
		amount := req.RequestedAmount
		requested = &amount
		description := vendor.ManualFee().Describe()
		feeDescription = &description
	}

	batchID := b.genID.Generate()
	periodStart, periodEnd := period(req, candidates, now)
	batch := domain.Batch{
		ID:               batchID,
		VendorID:         vendor.ID,
		CabinID:          req.CabinID,
		Type:             req.Type,
		Status:           domain.BatchStatusPending,
		GrossAmount:      totals.Gross,
		CommissionAmount: totals.Commission,
		NetAmount:        net,
		RequestedAmount:  requested,
		ManualFee:        fee,
		FeeDescription:   feeDescription,
		PeriodStart:      &periodStart,
		PeriodEnd:        &periodEnd,
		BankDetails:      snapshot(vendor.BankDetails),
		RequestedAt:      now,
		Notes:            optionalString(req.Notes),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	eventIDs := make([]snowflake.ID, 0, len(items))
	for i := range items {
		items[i].BatchID = batchID
		items[i].CreatedAt = now
		eventIDs = append(eventIDs, items[i].RevenueEventID)
	}

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := b.repo.Insert(ctx, tx, &batch); err != nil {
			return err
		}
		if err := b.repo.InsertItems(ctx, tx, items); err != nil {
			return err
		}
		if err := b.revenueRepo.Claim(ctx, tx, eventIDs, batchID, now); err != nil {
			return err
		}
		if batch.Type == domain.BatchTypeManual && batch.NetAmount > 0 {
			if err := b.tracker.Reserve(ctx, tx, vendor.ID, batch.NetAmount); err != nil {
				return err
			}
		}
		if b.auditSvc == nil {
			return nil
		}
		return b.auditSvc.AuditLog(ctx, tx, auditdomain.Entry{
			Action:     "payout.batch_created",
			TargetType: "payout_batch",
			TargetID:   batchID.String(),
			Metadata: map[string]any{
				"vendor_id":         vendor.ID.String(),
				"type":              string(batch.Type),
				"gross_amount":      batch.GrossAmount,
				"commission_amount": batch.CommissionAmount,
				"net_amount":        batch.NetAmount,
				"manual_fee":        batch.ManualFee,
				"event_count":       len(items),
			},
		})
	})
	if err != nil {
		return domain.Outcome{}, err
	}

	b.log.Info("payout batch created",
		zap.String("batch_id", batchID.String()),
		zap.String("vendor_id", vendor.ID.String()),
		zap.String("type", string(batch.Type)),
		zap.Int64("net_amount", batch.NetAmount),
		zap.Int("event_count", len(items)),
	)
	outcome.Batch = &batch
	outcome.ManualFee = fee
	return outcome, nil
}

// candidates resolves the events a run may claim: pinned ids for manual requests,
// otherwise everything eligible up to the window end.
func (b *Batcher) candidates(ctx context.Context, db *gorm.DB, scope revenuedomain.Scope, req domain.SettleRequest, now time.Time) ([]revenuedomain.RevenueEvent, error) {
	if req.Type == domain.BatchTypeManual && len(req.EventIDs) > 0 {
		return b.revenueRepo.FindEligibleByIDs(ctx, db, scope, req.EventIDs)
	}
	end := req.Window.End
	if end.IsZero() || end.After(now) {
		end = now
	}
	return b.revenueRepo.FindEligible(ctx, db, scope, end)
}

// totals sums a candidate set. A commission precomputed at booking time wins
// over the vendor rule.
func (b *Batcher) totals(vendor vendordomain.Vendor, events []revenuedomain.RevenueEvent) (domain.Totals, []domain.Item) {
	var totals domain.Totals
	items := make([]domain.Item, 0, len(events))
	for _, event := range events {
		commissionAmount := b.calc.ComputeCommission(event.GrossAmount, vendor.CommissionSettings())
		if event.CommissionAmount != nil {
			commissionAmount = *event.CommissionAmount
		}
		totals.Gross += event.GrossAmount
		totals.Commission += commissionAmount
		items = append(items, domain.Item{
			RevenueEventID:   event.ID,
			GrossAmount:      event.GrossAmount,
			CommissionAmount: commissionAmount,
		})
	}
	totals.Net = totals.Gross - totals.Commission
	totals.EventCount = len(items)
	return totals, items
}

// Quote computes the candidate totals of a manual request without mutating anything.
func (b *Batcher) Quote(ctx context.Context, vendor vendordomain.Vendor, cabinID *snowflake.ID, eventIDs []snowflake.ID) (domain.Totals, error) {
	req := domain.SettleRequest{
		VendorID: vendor.ID,
		CabinID:  cabinID,
		Type:     domain.BatchTypeManual,
		EventIDs: eventIDs,
	}
	scope := revenuedomain.Scope{VendorID: vendor.ID, CabinID: cabinID}
	events, err := b.candidates(ctx, b.db, scope, req, b.clock.Now())
	if err != nil {
		return domain.Totals{}, err
	}
	totals, _ := b.totals(vendor, events)
	return totals, nil
}

func (b *Batcher) recordOutcome(ctx context.Context, batchType domain.BatchType, outcome string, net int64) {
	b.metrics.IncBatchOutcome(string(batchType), outcome)
	b.obsMetrics.RecordPayoutBatch(ctx, string(batchType), outcome, net)
}

func period(req domain.SettleRequest, events []revenuedomain.RevenueEvent, now time.Time) (time.Time, time.Time) {
	if req.Type == domain.BatchTypeAuto && !req.Window.Start.IsZero() {
		end := req.Window.End
		if end.IsZero() || end.After(now) {
			end = now
		}
		start := req.Window.Start
		if first := events[0].OccurredAt; first.Before(start) {
			start = first
		}
		return start, end
	}
	return events[0].OccurredAt, events[len(events)-1].OccurredAt
}

func snapshot(details datatypes.JSONMap) datatypes.JSONMap {
	if len(details) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
