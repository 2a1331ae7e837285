package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ActorTypeAdmin  = "admin"
	ActorTypeVendor = "vendor"
	ActorTypeSystem = "system"
)

const (
	ObjectPayout     = "payout"
	ObjectBalance    = "balance"
	ObjectRevenue    = "revenue"
	ObjectVendor     = "vendor"
	ObjectCabin      = "cabin"
	ObjectSettlement = "settlement"
	ObjectAuditLog   = "audit_log"
)

const (
	ActionPayoutView       = "payout.view"
	ActionPayoutRequest    = "payout.request"
	ActionPayoutPreview    = "payout.preview"
	ActionPayoutTransition = "payout.transition"
	ActionPayoutReconcile  = "payout.reconcile"
	ActionPayoutStatement  = "payout.statement"

	ActionBalanceView = "balance.view"

	ActionRevenueIngest = "revenue.ingest"
	ActionRevenueRefund = "revenue.refund"

	ActionVendorSync = "vendor.sync"
	ActionCabinSync  = "cabin.sync"

	ActionSettlementSweep = "settlement.sweep"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies from casbin_rule and seeds the built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actorType, actorID, object, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := resolveActor(actorType, actorID)
	if err != nil {
		return err
	}
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actorType, actorID, object, action)
		return ErrForbidden
	}
	return nil
}

// resolveActor maps gateway actor headers onto a casbin subject and role.
func resolveActor(actorType, actorID string) (string, string, error) {
	actorType = strings.ToLower(strings.TrimSpace(actorType))
	actorID = strings.TrimSpace(actorID)

	switch actorType {
	case ActorTypeSystem:
		return ActorTypeSystem, "role:system", nil
	case ActorTypeAdmin, ActorTypeVendor:
		id, err := snowflake.ParseString(actorID)
		if err != nil || id <= 0 {
			return "", "", ErrInvalidActor
		}
		return fmt.Sprintf("%s:%s", actorType, id.String()), "role:" + actorType, nil
	default:
		return "", "", ErrInvalidActor
	}
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType, actorID, object, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.AuditLog(ctx, nil, auditdomain.Entry{
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		ActorType:  actorType,
		ActorID:    actorID,
		Metadata: map[string]any{
			"object": object,
			"action": action,
		},
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Admin operates the payout lifecycle
		{"role:admin", ObjectPayout, ActionPayoutView},
		{"role:admin", ObjectPayout, ActionPayoutTransition},
		{"role:admin", ObjectPayout, ActionPayoutReconcile},
		{"role:admin", ObjectPayout, ActionPayoutStatement},
		{"role:admin", ObjectBalance, ActionBalanceView},
		{"role:admin", ObjectSettlement, ActionSettlementSweep},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},

		// Vendors act on their own balance only; ownership is checked by the handler
		{"role:vendor", ObjectPayout, ActionPayoutView},
		{"role:vendor", ObjectPayout, ActionPayoutRequest},
		{"role:vendor", ObjectPayout, ActionPayoutPreview},
		{"role:vendor", ObjectPayout, ActionPayoutStatement},
		{"role:vendor", ObjectBalance, ActionBalanceView},

		// Upstream booking and profile services
		{"role:system", ObjectRevenue, ActionRevenueIngest},
		{"role:system", ObjectRevenue, ActionRevenueRefund},
		{"role:system", ObjectVendor, ActionVendorSync},
		{"role:system", ObjectCabin, ActionCabinSync},
		{"role:system", ObjectSettlement, ActionSettlementSweep},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
