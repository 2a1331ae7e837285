package balance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	auditrepo "github.com/smallbiznis/settlement/internal/audit/repository"
	auditservice "github.com/smallbiznis/settlement/internal/audit/service"
	"github.com/smallbiznis/settlement/internal/clock"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	"github.com/smallbiznis/settlement/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	registry *prometheus.Registry
	fake     *clock.FakeClock
)

func newTestTracker(t *testing.T) (*Tracker, *gorm.DB) {
	t.Helper()
	registry = obsmetrics.ResetSettlementMetricsForTest()
	db := dbtest.Open(t, &vendordomain.Vendor{}, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&vendordomain.Vendor{
		ID: 100, Name: "A", Status: vendordomain.StatusApproved, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}).Error)

	fake = clock.NewFakeClock(now.Add(time.Hour))
	tracker := NewTracker(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fake,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(),
		}),
	})
	return tracker, db
}

func TestReserveAndRelease(t *testing.T) {
	tracker, db := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Reserve(ctx, db, 100, 950))
	balance, err := tracker.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(950), balance)

	result, err := tracker.Release(ctx, db, 100, 950)
	require.NoError(t, err)
	assert.False(t, result.Anomaly)
	assert.Equal(t, int64(0), result.Balance)

	balance, err = tracker.Get(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestReleaseUnderflowIsFlooredAndSurfaced(t *testing.T) {
	tracker, db := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Reserve(ctx, db, 100, 300))
	result, err := tracker.Release(ctx, db, 100, 500)
	require.NoError(t, err)
	assert.True(t, result.Anomaly)
	assert.Equal(t, int64(300), result.Previous)
	assert.Equal(t, int64(300), result.Released)
	assert.Zero(t, result.Balance)

	expected := `
# HELP settlement_balance_underflow_total Balance releases that would have driven a vendor balance negative.
# TYPE settlement_balance_underflow_total counter
settlement_balance_underflow_total{env="unknown",service="settlement"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "settlement_balance_underflow_total"))

	var logs []auditdomain.AuditLog
	require.NoError(t, db.Where("action = ?", "balance.underflow").Find(&logs).Error)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].TargetID)
	assert.Equal(t, "100", *logs[0].TargetID)
}

func TestTrackerValidation(t *testing.T) {
	tracker, db := newTestTracker(t)
	ctx := context.Background()

	require.ErrorIs(t, tracker.Reserve(ctx, db, 100, 0), ErrInvalidAmount)
	require.ErrorIs(t, tracker.Reserve(ctx, db, 999, 10), ErrVendorNotFound)
	_, err := tracker.Release(ctx, db, 100, -1)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = tracker.Release(ctx, db, 999, 10)
	require.ErrorIs(t, err, ErrVendorNotFound)
	_, err = tracker.Get(ctx, 999)
	require.ErrorIs(t, err, ErrVendorNotFound)
}

func TestOutstanding(t *testing.T) {
	tracker, db := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Reserve(ctx, db, 100, 400))
	total, err := tracker.Outstanding(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(400), total)
}

func TestTrackerStampsUpdatedAtFromClock(t *testing.T) {
	tracker, db := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Reserve(ctx, db, 100, 400))
	var vendor vendordomain.Vendor
	require.NoError(t, db.First(&vendor, 100).Error)
	assert.True(t, vendor.UpdatedAt.Equal(fake.Now()), "reserve stamped %s", vendor.UpdatedAt)

	fake.Advance(24 * time.Hour)
	_, err := tracker.Release(ctx, db, 100, 400)
	require.NoError(t, err)
	require.NoError(t, db.First(&vendor, 100).Error)
	assert.True(t, vendor.UpdatedAt.Equal(fake.Now()), "release stamped %s", vendor.UpdatedAt)
}
