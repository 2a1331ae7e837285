package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"github.com/smallbiznis/settlement/internal/balance"
	"github.com/smallbiznis/settlement/internal/clock"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	"github.com/smallbiznis/settlement/internal/payout/domain"
	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LifecycleParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        domain.Repository
	RevenueRepo revenuedomain.Repository
	Tracker     *balance.Tracker
	AuditSvc    auditdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type LifecycleService struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        domain.Repository
	revenueRepo revenuedomain.Repository
	tracker     *balance.Tracker
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewLifecycleService(p LifecycleParams) domain.LifecycleService {
	return &LifecycleService{
		db:          p.DB,
		log:         p.Log.Named("payout.lifecycle"),
		clock:       p.Clock,
		repo:        p.Repo,
		revenueRepo: p.RevenueRepo,
		tracker:     p.Tracker,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *LifecycleService) Transition(ctx context.Context, req domain.TransitionRequest) (domain.Batch, error) {
	id, err := parseID(req.BatchID, domain.ErrInvalidID)
	if err != nil {
		return domain.Batch{}, err
	}
	to, ok := domain.ParseBatchStatus(req.Status)
	if !ok {
		return domain.Batch{}, domain.ErrInvalidStatus
	}
	from := to.AllowedFrom()
	if len(from) == 0 {
		return domain.Batch{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	fields := domain.TransitionFields{
		TransactionID: optionalTrimmed(req.TransactionID),
		Notes:         optionalTrimmed(req.Notes),
	}
	if to.Terminal() {
		fields.ProcessedAt = &now
	}

	var (
		previous domain.BatchStatus
		released int64
		updated  *domain.Batch
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrNotFound
		}
		previous = batch.Status

		moved, err := s.repo.TransitionStatus(ctx, tx, id, to, from, fields, now)
		if err != nil {
			return err
		}
		if !moved {
			return domain.ErrInvalidTransition
		}

		if to.Releasing() {
			released, err = s.revenueRepo.Release(ctx, tx, id, now)
			if err != nil {
				return fmt.Errorf("release revenue events: %w", err)
			}
		}
		if to.Terminal() && batch.Type == domain.BatchTypeManual && batch.NetAmount > 0 {
			if _, err := s.tracker.Release(ctx, tx, batch.VendorID, batch.NetAmount); err != nil {
				return fmt.Errorf("release vendor balance: %w", err)
			}
		}

		if s.auditSvc != nil {
			if err := s.auditSvc.AuditLog(ctx, tx, auditdomain.Entry{
				Action:     "payout.transition",
				TargetType: "payout_batch",
				TargetID:   id.String(),
				Metadata: map[string]any{
					"vendor_id":       batch.VendorID.String(),
					"type":            string(batch.Type),
					"from":            string(previous),
					"to":              string(to),
					"net_amount":      batch.NetAmount,
					"released_events": released,
				},
			}); err != nil {
				return err
			}
		}

		updated, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Batch{}, err
	}

	s.obsMetrics.RecordPayoutTransition(ctx, string(updated.Type), string(to))
	s.log.Info("payout batch transitioned",
		zap.String("batch_id", id.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(to)),
		zap.Int64("released_events", released),
	)
	return *updated, nil
}

func (s *LifecycleService) List(ctx context.Context, req domain.ListBatchesRequest) (domain.ListBatchesResponse, error) {
	filter, err := listFilter(req)
	if err != nil {
		return domain.ListBatchesResponse{}, err
	}
	return listBatches(ctx, s.repo, s.db, filter)
}

func (s *LifecycleService) Get(ctx context.Context, id string) (domain.BatchDetail, error) {
	batchID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return domain.BatchDetail{}, err
	}
	batch, err := s.repo.FindByID(ctx, s.db, batchID)
	if err != nil {
		return domain.BatchDetail{}, err
	}
	if batch == nil {
		return domain.BatchDetail{}, domain.ErrNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, batchID)
	if err != nil {
		return domain.BatchDetail{}, err
	}
	if items == nil {
		items = []domain.Item{}
	}
	return domain.BatchDetail{Batch: *batch, Items: items}, nil
}

// Reconcile recomputes a batch from its items and the events they reference.
func (s *LifecycleService) Reconcile(ctx context.Context, id string) (domain.ReconcileResult, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	batch := detail.Batch

	stored := domain.Totals{
		Gross:      batch.GrossAmount,
		Commission: batch.CommissionAmount,
		Net:        batch.NetAmount,
		EventCount: len(detail.Items),
	}
	computed := domain.Totals{EventCount: len(detail.Items)}
	ids := make([]snowflake.ID, 0, len(detail.Items))
	for _, item := range detail.Items {
		computed.Gross += item.GrossAmount
		computed.Commission += item.CommissionAmount
		ids = append(ids, item.RevenueEventID)
	}
	computed.Net = computed.Gross - computed.Commission
	result := domain.ReconcileResult{BatchID: batch.ID, Stored: stored, Items: computed}

	events, err := s.revenueRepo.FindByIDs(ctx, s.db, ids)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if reason := mismatch(batch, detail.Items, events, computed); reason != "" {
		s.log.Error("payout batch reconciliation mismatch",
			zap.String("batch_id", batch.ID.String()),
			zap.String("vendor_id", batch.VendorID.String()),
			zap.String("reason", reason),
			zap.Int64("stored_gross", stored.Gross),
			zap.Int64("items_gross", computed.Gross),
			zap.Int64("stored_commission", stored.Commission),
			zap.Int64("items_commission", computed.Commission),
		)
		return result, &domain.ReconcileMismatchError{
			BatchID:  batch.ID,
			Reason:   reason,
			Stored:   stored,
			Computed: computed,
		}
	}
	return result, nil
}

func mismatch(batch domain.Batch, items []domain.Item, events []revenuedomain.RevenueEvent, computed domain.Totals) string {
	if computed.Gross != batch.GrossAmount || computed.Commission != batch.CommissionAmount {
		return "item totals differ from batch totals"
	}

	switch batch.Type {
	case domain.BatchTypeManual:
		if batch.RequestedAmount == nil {
			return "manual batch without requested amount"
		}
		if batch.NetAmount != *batch.RequestedAmount-batch.ManualFee {
			return "net differs from requested minus fee"
		}
		if *batch.RequestedAmount > computed.Net {
			return "requested amount exceeds item net"
		}
	default:
		if batch.NetAmount != computed.Net {
			return "net differs from gross minus commission"
		}
	}

	byID := make(map[snowflake.ID]revenuedomain.RevenueEvent, len(events))
	for _, event := range events {
		byID[event.ID] = event
	}
	for _, item := range items {
		event, ok := byID[item.RevenueEventID]
		if !ok {
			return fmt.Sprintf("revenue event %s missing", item.RevenueEventID)
		}
		if event.GrossAmount != item.GrossAmount {
			return fmt.Sprintf("revenue event %s gross differs from item", event.ID)
		}
		claimed := event.PayoutID != nil && *event.PayoutID == batch.ID
		if batch.Status.Releasing() && claimed {
			return fmt.Sprintf("revenue event %s still claimed by released batch", event.ID)
		}
		if !batch.Status.Releasing() && (!claimed || event.PayoutStatus != revenuedomain.PayoutStatusIncluded) {
			return fmt.Sprintf("revenue event %s not claimed by batch", event.ID)
		}
	}
	return ""
}

func optionalTrimmed(value *string) *string {
	if value == nil {
		return nil
	}
	return optionalString(strings.TrimSpace(*value))
}
