package authorization

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingAudit struct {
	entries []auditdomain.Entry
}

func (r *recordingAudit) AuditLog(_ context.Context, _ *gorm.DB, entry auditdomain.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func newTestService(t *testing.T) (Service, *recordingAudit) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	audit := &recordingAudit{}
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit}), audit
}

func TestAuthorizeRoleGrants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, ActorTypeSystem, "", ObjectRevenue, ActionRevenueIngest))
	require.NoError(t, svc.Authorize(ctx, ActorTypeAdmin, "1001", ObjectPayout, ActionPayoutTransition))
	require.NoError(t, svc.Authorize(ctx, ActorTypeVendor, "2002", ObjectPayout, ActionPayoutRequest))
	require.NoError(t, svc.Authorize(ctx, ActorTypeAdmin, "1001", ObjectSettlement, ActionSettlementSweep))
}

func TestAuthorizeDeniesOutsideRole(t *testing.T) {
	svc, audit := newTestService(t)
	ctx := context.Background()

	err := svc.Authorize(ctx, ActorTypeVendor, "2002", ObjectPayout, ActionPayoutTransition)
	require.ErrorIs(t, err, ErrForbidden)

	err = svc.Authorize(ctx, ActorTypeVendor, "2002", ObjectRevenue, ActionRevenueIngest)
	require.ErrorIs(t, err, ErrForbidden)

	require.Len(t, audit.entries, 2)
	require.Equal(t, "authorization.denied", audit.entries[0].Action)
}

func TestAuthorizeRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Authorize(ctx, "guest", "1", ObjectPayout, ActionPayoutView), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, ActorTypeVendor, "not-a-number", ObjectPayout, ActionPayoutView), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, ActorTypeAdmin, "1", "", ActionPayoutView), ErrInvalidObject)
	require.ErrorIs(t, svc.Authorize(ctx, ActorTypeAdmin, "1", ObjectPayout, " "), ErrInvalidAction)
}

func TestNewEnforcerIsIdempotent(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	_, err = NewEnforcer(db)
	require.NoError(t, err)
	second, err := NewEnforcer(db)
	require.NoError(t, err)

	ok, err := second.Enforce("role:admin", ObjectPayout, ActionPayoutView)
	require.NoError(t, err)
	require.True(t, ok)
}
