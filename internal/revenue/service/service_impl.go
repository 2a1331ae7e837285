package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"github.com/smallbiznis/settlement/internal/clock"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	"github.com/smallbiznis/settlement/internal/revenue/domain"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ingestOutcomeCreated   = "created"
	ingestOutcomeDuplicate = "duplicate"
	ingestOutcomeRefunded  = "refunded"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	VendorSvc  vendordomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	vendorSvc  vendordomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("revenue.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		vendorSvc:  p.VendorSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// Record ingests a completed booking payment. Replays of the same external_ref
// return the stored event untouched.
func (s *Service) Record(ctx context.Context, req domain.RecordRequest) (domain.RecordResponse, error) {
	externalRef := strings.TrimSpace(req.ExternalRef)
	if externalRef == "" {
		return domain.RecordResponse{}, domain.ErrInvalidExternalRef
	}
	cabinID, err := snowflake.ParseString(strings.TrimSpace(req.CabinID))
	if err != nil || cabinID <= 0 {
		return domain.RecordResponse{}, domain.ErrInvalidCabin
	}
	if req.GrossAmount <= 0 {
		return domain.RecordResponse{}, domain.ErrInvalidAmount
	}
	if req.CommissionAmount != nil && (*req.CommissionAmount < 0 || *req.CommissionAmount > req.GrossAmount) {
		return domain.RecordResponse{}, domain.ErrInvalidCommission
	}
	if req.OccurredAt.IsZero() {
		return domain.RecordResponse{}, domain.ErrInvalidOccurredAt
	}

	vendorID, err := s.vendorSvc.CabinOwner(ctx, cabinID)
	if err != nil {
		return domain.RecordResponse{}, err
	}

	now := s.clock.Now()
	event := domain.RevenueEvent{
		ID:               s.genID.Generate(),
		ExternalRef:      externalRef,
		VendorID:         vendorID,
		CabinID:          cabinID,
		GrossAmount:      req.GrossAmount,
		CommissionAmount: req.CommissionAmount,
		PaymentStatus:    domain.PaymentStatusCompleted,
		PayoutStatus:     domain.PayoutStatusPending,
		OccurredAt:       req.OccurredAt.UTC(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var stored *domain.RevenueEvent
	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.Insert(ctx, tx, &event)
		if err != nil {
			return err
		}
		created = inserted

		stored, err = s.repo.FindByExternalRef(ctx, tx, externalRef)
		if err != nil {
			return err
		}
		if stored == nil {
			return domain.ErrNotFound
		}
		if !inserted {
			return nil
		}
		return s.audit(ctx, tx, "revenue.recorded", stored.ID.String(), map[string]any{
			"external_ref": externalRef,
			"vendor_id":    vendorID.String(),
			"cabin_id":     cabinID.String(),
			"gross_amount": req.GrossAmount,
		})
	})
	if err != nil {
		return domain.RecordResponse{}, err
	}

	outcome := ingestOutcomeCreated
	if !created {
		outcome = ingestOutcomeDuplicate
		s.log.Debug("duplicate revenue event ignored", zap.String("external_ref", externalRef))
	}
	s.obsMetrics.RecordRevenueIngest(ctx, outcome)

	return domain.RecordResponse{Event: *stored, Created: created}, nil
}

// Refund withdraws an unsettled event from settlement. Settled events must be
// handled by failing or cancelling their batch first.
func (s *Service) Refund(ctx context.Context, externalRef string) (domain.RevenueEvent, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return domain.RevenueEvent{}, domain.ErrInvalidExternalRef
	}

	var stored *domain.RevenueEvent
	refunded := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.MarkRefunded(ctx, tx, externalRef, s.clock.Now())
		if err != nil {
			return err
		}
		stored, err = s.repo.FindByExternalRef(ctx, tx, externalRef)
		if err != nil {
			return err
		}
		if stored == nil {
			return domain.ErrNotFound
		}
		if !ok {
			if stored.PaymentStatus == domain.PaymentStatusRefunded {
				return nil
			}
			return domain.ErrAlreadySettled
		}
		refunded = true
		return s.audit(ctx, tx, "revenue.refunded", stored.ID.String(), map[string]any{
			"external_ref": externalRef,
			"vendor_id":    stored.VendorID.String(),
		})
	})
	if err != nil {
		return domain.RevenueEvent{}, err
	}
	if refunded {
		s.obsMetrics.RecordRevenueIngest(ctx, ingestOutcomeRefunded)
	}
	return *stored, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action, targetID string, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.AuditLog(ctx, tx, auditdomain.Entry{
		Action:     action,
		TargetType: "revenue_event",
		TargetID:   targetID,
		Metadata:   metadata,
	})
}
