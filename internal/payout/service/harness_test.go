package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	auditrepo "github.com/smallbiznis/settlement/internal/audit/repository"
	auditservice "github.com/smallbiznis/settlement/internal/audit/service"
	"github.com/smallbiznis/settlement/internal/balance"
	"github.com/smallbiznis/settlement/internal/cache"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/commission"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/lock"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	"github.com/smallbiznis/settlement/internal/payout/domain"
	"github.com/smallbiznis/settlement/internal/payout/repository"
	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
	revenuerepo "github.com/smallbiznis/settlement/internal/revenue/repository"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	vendorrepo "github.com/smallbiznis/settlement/internal/vendors/repository"
	vendorservice "github.com/smallbiznis/settlement/internal/vendors/service"
	"github.com/smallbiznis/settlement/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var start = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	vendorA snowflake.ID = 100
	vendorB snowflake.ID = 200
	cabinA1 snowflake.ID = 10
	cabinA2 snowflake.ID = 11
	cabinB1 snowflake.ID = 20
)

type harness struct {
	db          *gorm.DB
	clock       *clock.FakeClock
	locker      *lock.MemoryLocker
	registry    *prometheus.Registry
	revenueRepo revenuedomain.Repository
	repo        domain.Repository
	tracker     *balance.Tracker
	batcher     *Batcher
	manual      domain.ManualService
	lifecycle   domain.LifecycleService
	nextEvent   int64
}

type harnessOption func(*BatcherParams)

func withRevenueRepo(r revenuedomain.Repository) harnessOption {
	return func(p *BatcherParams) { p.RevenueRepo = r }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	registry := obsmetrics.ResetSettlementMetricsForTest()
	db := dbtest.Open(t,
		&vendordomain.Vendor{},
		&vendordomain.Cabin{},
		&revenuedomain.RevenueEvent{},
		&domain.Batch{},
		&domain.Item{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(start)
	log := zap.NewNop()
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Repo: auditrepo.Provide(),
	})
	holder := config.NewStaticSettlementConfigHolder(config.DefaultSettlementConfig())
	calc := commission.NewCalculator(holder)
	tracker := balance.NewTracker(balance.Params{DB: db, Log: log, Clock: fake, AuditSvc: auditSvc})
	locker := lock.NewMemoryLocker()
	vendors := vendorrepo.Provide()
	revenues := revenuerepo.Provide()
	batches := repository.Provide()

	params := BatcherParams{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fake,
		Config:      holder,
		Locker:      locker,
		Calculator:  calc,
		Repo:        batches,
		VendorRepo:  vendors,
		RevenueRepo: revenues,
		Tracker:     tracker,
		AuditSvc:    auditSvc,
	}
	for _, opt := range opts {
		opt(&params)
	}
	batcher := NewBatcher(params)

	vendorSvc := vendorservice.New(vendorservice.Params{
		DB: db, Log: log, Clock: fake, Repo: vendors, OwnerCache: cache.NewCabinOwnerCache(),
	})

	h := &harness{
		db:          db,
		clock:       fake,
		locker:      locker,
		registry:    registry,
		revenueRepo: revenues,
		repo:        batches,
		tracker:     tracker,
		batcher:     batcher,
		manual: NewManualService(ManualParams{
			DB:          db,
			Log:         log,
			Batcher:     batcher,
			Calculator:  calc,
			Repo:        batches,
			VendorRepo:  vendors,
			VendorSvc:   vendorSvc,
			RevenueRepo: revenues,
			Tracker:     tracker,
		}),
		lifecycle: NewLifecycleService(LifecycleParams{
			DB:          db,
			Log:         log,
			Clock:       fake,
			Repo:        batches,
			RevenueRepo: revenues,
			Tracker:     tracker,
			AuditSvc:    auditSvc,
		}),
		nextEvent: 1000,
	}

	h.seedVendor(t, vendorA, vendordomain.StatusApproved, cabinA1, cabinA2)
	h.seedVendor(t, vendorB, vendordomain.StatusApproved, cabinB1)
	return h
}

func (h *harness) seedVendor(t *testing.T, id snowflake.ID, status vendordomain.Status, cabins ...snowflake.ID) {
	t.Helper()
	require.NoError(t, h.db.Create(&vendordomain.Vendor{
		ID:                  id,
		Name:                "vendor-" + id.String(),
		Status:              status,
		IsActive:            true,
		CommissionType:      string(commission.TypePercentage),
		CommissionValue:     decimal.NewNullDecimal(decimal.NewFromInt(20)),
		AutoPayoutEnabled:   true,
		PayoutFrequencyDays: 7,
		MinimumPayoutAmount: 500,
		ManualFeeEnabled:    true,
		ManualFeeType:       string(commission.TypeFixed),
		ManualFeeValue:      decimal.NewNullDecimal(decimal.NewFromInt(50)),
		BankDetails:         datatypes.JSONMap{"account_number": "1234567890", "bank": "Test Bank"},
		CreatedAt:           start,
		UpdatedAt:           start,
	}).Error)
	for _, cabin := range cabins {
		require.NoError(t, h.db.Create(&vendordomain.Cabin{
			ID: cabin, VendorID: id, Name: "cabin-" + cabin.String(), IsActive: true, CreatedAt: start, UpdatedAt: start,
		}).Error)
	}
}

func (h *harness) seedEvent(t *testing.T, vendor, cabin snowflake.ID, gross int64, commissionAmount *int64) revenuedomain.RevenueEvent {
	t.Helper()
	h.nextEvent++
	id := snowflake.ID(h.nextEvent)
	occurred := h.clock.Now().Add(-time.Hour)
	event := revenuedomain.RevenueEvent{
		ID:               id,
		ExternalRef:      "booking-" + id.String(),
		VendorID:         vendor,
		CabinID:          cabin,
		GrossAmount:      gross,
		CommissionAmount: commissionAmount,
		PaymentStatus:    revenuedomain.PaymentStatusCompleted,
		PayoutStatus:     revenuedomain.PayoutStatusPending,
		OccurredAt:       occurred,
		CreatedAt:        occurred,
		UpdatedAt:        occurred,
	}
	inserted, err := h.revenueRepo.Insert(context.Background(), h.db, &event)
	require.NoError(t, err)
	require.True(t, inserted)
	return event
}

func (h *harness) event(t *testing.T, id snowflake.ID) revenuedomain.RevenueEvent {
	t.Helper()
	events, err := h.revenueRepo.FindByIDs(context.Background(), h.db, []snowflake.ID{id})
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

func (h *harness) balance(t *testing.T, vendor snowflake.ID) int64 {
	t.Helper()
	value, err := h.tracker.Get(context.Background(), vendor)
	require.NoError(t, err)
	return value
}

func (h *harness) countBatches(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&domain.Batch{}).Count(&count).Error)
	return count
}

func int64Ptr(v int64) *int64 { return &v }
