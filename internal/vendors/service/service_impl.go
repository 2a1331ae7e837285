package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"github.com/smallbiznis/settlement/internal/audit/masking"
	"github.com/smallbiznis/settlement/internal/cache"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/commission"
	"github.com/smallbiznis/settlement/internal/vendors/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	OwnerCache cache.CabinOwnerCache
	AuditSvc   auditdomain.Service `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	ownerCache cache.CabinOwnerCache
	auditSvc   auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("vendor.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		ownerCache: p.OwnerCache,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) UpsertVendor(ctx context.Context, req domain.UpsertVendorRequest) (domain.Vendor, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Vendor{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Vendor{}, domain.ErrInvalidName
	}
	status, ok := domain.ParseStatus(req.Status)
	if !ok {
		return domain.Vendor{}, domain.ErrInvalidStatus
	}
	if req.PayoutFrequencyDays < 0 {
		return domain.Vendor{}, domain.ErrInvalidFrequency
	}
	if req.MinimumPayoutAmount < 0 {
		return domain.Vendor{}, domain.ErrInvalidMinimum
	}

	commissionType, commissionValue, err := parseRule(req.CommissionType, req.CommissionValue, domain.ErrInvalidCommission)
	if err != nil {
		return domain.Vendor{}, err
	}
	feeType, feeValue, err := parseRule(req.ManualFeeType, req.ManualFeeValue, domain.ErrInvalidManualFee)
	if err != nil {
		return domain.Vendor{}, err
	}
	if req.ManualFeeEnabled && !feeValue.Valid {
		return domain.Vendor{}, domain.ErrInvalidManualFee
	}

	now := s.clock.Now()
	vendor := domain.Vendor{
		ID:                  id,
		Name:                name,
		Status:              status,
		IsActive:            req.IsActive,
		CommissionType:      commissionType,
		CommissionValue:     commissionValue,
		AutoPayoutEnabled:   req.AutoPayoutEnabled,
		PayoutFrequencyDays: req.PayoutFrequencyDays,
		PerCabinPayout:      req.PerCabinPayout,
		MinimumPayoutAmount: req.MinimumPayoutAmount,
		ManualFeeEnabled:    req.ManualFeeEnabled,
		ManualFeeType:       feeType,
		ManualFeeValue:      feeValue,
		BankDetails:         datatypes.JSONMap(req.BankDetails),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.NextAutoPayoutAt != nil {
		next := req.NextAutoPayoutAt.UTC()
		vendor.NextAutoPayoutAt = &next
	}

	var stored *domain.Vendor
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Upsert(ctx, tx, &vendor); err != nil {
			return err
		}
		found, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if found == nil {
			return domain.ErrNotFound
		}
		stored = found
		return s.audit(ctx, tx, "vendor.synced", "vendor", id.String(), map[string]any{
			"status":       string(status),
			"is_active":    req.IsActive,
			"auto_payout":  req.AutoPayoutEnabled,
			"bank_details": masking.MaskBankDetails(req.BankDetails),
		})
	})
	if err != nil {
		return domain.Vendor{}, err
	}

	s.log.Info("vendor profile synced",
		zap.String("vendor_id", id.String()),
		zap.String("status", string(status)),
	)
	return *stored, nil
}

func (s *Service) GetVendor(ctx context.Context, id string) (domain.Vendor, error) {
	vendorID, err := parseID(id)
	if err != nil {
		return domain.Vendor{}, err
	}
	vendor, err := s.repo.FindByID(ctx, s.db, vendorID)
	if err != nil {
		return domain.Vendor{}, err
	}
	if vendor == nil {
		return domain.Vendor{}, domain.ErrNotFound
	}
	return *vendor, nil
}

func (s *Service) UpsertCabin(ctx context.Context, req domain.UpsertCabinRequest) (domain.Cabin, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Cabin{}, err
	}
	vendorID, err := parseID(req.VendorID)
	if err != nil {
		return domain.Cabin{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Cabin{}, domain.ErrInvalidName
	}

	now := s.clock.Now()
	cabin := domain.Cabin{
		ID:        id,
		VendorID:  vendorID,
		Name:      name,
		IsActive:  req.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owner, err := s.repo.FindByID(ctx, tx, vendorID)
		if err != nil {
			return err
		}
		if owner == nil {
			return domain.ErrNotFound
		}
		if err := s.repo.UpsertCabin(ctx, tx, &cabin); err != nil {
			return err
		}
		return s.audit(ctx, tx, "cabin.synced", "cabin", id.String(), map[string]any{
			"vendor_id": vendorID.String(),
			"is_active": req.IsActive,
		})
	})
	if err != nil {
		return domain.Cabin{}, err
	}

	s.ownerCache.Invalidate(id)
	s.ownerCache.SetOwner(id, vendorID)
	return cabin, nil
}

func (s *Service) CabinOwner(ctx context.Context, cabinID snowflake.ID) (snowflake.ID, error) {
	if cabinID <= 0 {
		return 0, domain.ErrInvalidID
	}
	if owner, ok := s.ownerCache.GetOwner(cabinID); ok {
		return owner, nil
	}

	cabin, err := s.repo.FindCabin(ctx, s.db, cabinID)
	if err != nil {
		return 0, err
	}
	if cabin == nil {
		return 0, domain.ErrCabinNotFound
	}
	s.ownerCache.SetOwner(cabin.ID, cabin.VendorID)
	return cabin.VendorID, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action, targetType, targetID string, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.AuditLog(ctx, tx, auditdomain.Entry{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
	})
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

// parseRule validates an optional type/value pair. An empty type stores no rule.
func parseRule(rawType string, rawValue *string, invalid error) (string, decimal.NullDecimal, error) {
	if strings.TrimSpace(rawType) == "" {
		return "", decimal.NullDecimal{}, nil
	}
	typ, ok := commission.ParseType(rawType)
	if !ok || rawValue == nil {
		return "", decimal.NullDecimal{}, invalid
	}
	value, err := decimal.NewFromString(strings.TrimSpace(*rawValue))
	if err != nil {
		return "", decimal.NullDecimal{}, invalid
	}
	if !(commission.Settings{Type: typ, Value: value}).Valid() {
		return "", decimal.NullDecimal{}, invalid
	}
	return string(typ), decimal.NewNullDecimal(value), nil
}
