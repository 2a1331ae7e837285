package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus/testutil"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"github.com/smallbiznis/settlement/internal/lock"
	"github.com/smallbiznis/settlement/internal/payout/domain"
	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
	revenuerepo "github.com/smallbiznis/settlement/internal/revenue/repository"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func autoRequest(h *harness, vendor snowflake.ID) domain.SettleRequest {
	now := h.clock.Now()
	return domain.SettleRequest{
		VendorID: vendor,
		Type:     domain.BatchTypeAuto,
		Window:   revenuedomain.Window{Start: now.Add(-7 * 24 * time.Hour), End: now},
	}
}

func TestSettleAutoIncludesEveryEligibleEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	events := []revenuedomain.RevenueEvent{
		h.seedEvent(t, vendorA, cabinA1, 1000, nil),
		h.seedEvent(t, vendorA, cabinA1, 2000, nil),
		h.seedEvent(t, vendorA, cabinA2, 500, nil),
	}

	outcome, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.NoError(t, err)
	require.NotNil(t, outcome.Batch)
	assert.Empty(t, outcome.Skipped)

	batch := outcome.Batch
	assert.Equal(t, int64(3500), batch.GrossAmount)
	assert.Equal(t, int64(700), batch.CommissionAmount)
	assert.Equal(t, int64(2800), batch.NetAmount)
	assert.Equal(t, batch.GrossAmount, batch.NetAmount+batch.CommissionAmount)
	assert.Equal(t, domain.BatchStatusPending, batch.Status)
	assert.Equal(t, domain.BatchTypeAuto, batch.Type)
	assert.Equal(t, "1234567890", batch.BankDetails["account_number"])
	assert.Zero(t, batch.ManualFee)
	assert.Nil(t, batch.RequestedAmount)

	for _, e := range events {
		stored := h.event(t, e.ID)
		assert.Equal(t, revenuedomain.PayoutStatusIncluded, stored.PayoutStatus)
		require.NotNil(t, stored.PayoutID)
		assert.Equal(t, batch.ID, *stored.PayoutID)
	}

	items, err := h.repo.ListItems(ctx, h.db, batch.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, int64(200), items[0].CommissionAmount)

	// auto batches never reserve balance
	assert.Zero(t, h.balance(t, vendorA))

	var audits []auditdomain.AuditLog
	require.NoError(t, h.db.Where("action = ?", "payout.batch_created").Find(&audits).Error)
	assert.Len(t, audits, 1)

	expected := `
# HELP settlement_batch_outcomes_total Payout batcher outcomes by batch type.
# TYPE settlement_batch_outcomes_total counter
settlement_batch_outcomes_total{env="unknown",outcome="created",service="settlement",type="auto"} 1
`
	require.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "settlement_batch_outcomes_total"))
}

func TestSettleAutoBelowMinimumLeavesEventsPending(t *testing.T) {
	h := newHarness(t)
	event := h.seedEvent(t, vendorA, cabinA1, 100, nil)

	outcome, err := h.batcher.Settle(context.Background(), autoRequest(h, vendorA))
	require.NoError(t, err)
	assert.Nil(t, outcome.Batch)
	assert.Equal(t, domain.SkipBelowMinimum, outcome.Skipped)
	assert.Equal(t, int64(20), outcome.Totals.Commission)
	assert.Equal(t, int64(80), outcome.Totals.Net)

	stored := h.event(t, event.ID)
	assert.Equal(t, revenuedomain.PayoutStatusPending, stored.PayoutStatus)
	assert.Nil(t, stored.PayoutID)
	assert.Zero(t, h.countBatches(t))
}

func TestSettleSkipsWithoutEligibleRevenue(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t, vendorB, cabinB1, 5000, nil)

	outcome, err := h.batcher.Settle(context.Background(), autoRequest(h, vendorA))
	require.NoError(t, err)
	assert.Nil(t, outcome.Batch)
	assert.Equal(t, domain.SkipNoEligibleRevenue, outcome.Skipped)
}

func TestSettleTwiceNeverDoubleClaims(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedEvent(t, vendorA, cabinA1, 1000, nil)

	first, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.NoError(t, err)
	require.NotNil(t, first.Batch)

	second, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.NoError(t, err)
	assert.Nil(t, second.Batch)
	assert.Equal(t, domain.SkipNoEligibleRevenue, second.Skipped)
	assert.Equal(t, int64(1), h.countBatches(t))
}

func TestSettleUsesPrecomputedCommission(t *testing.T) {
	h := newHarness(t)
	h.seedEvent(t, vendorA, cabinA1, 1000, int64Ptr(300))
	h.seedEvent(t, vendorA, cabinA1, 1000, nil)

	outcome, err := h.batcher.Settle(context.Background(), autoRequest(h, vendorA))
	require.NoError(t, err)
	require.NotNil(t, outcome.Batch)
	assert.Equal(t, int64(500), outcome.Batch.CommissionAmount)
	assert.Equal(t, int64(1500), outcome.Batch.NetAmount)
}

func TestSettleCabinScopeOnlyClaimsThatCabin(t *testing.T) {
	h := newHarness(t)
	own := h.seedEvent(t, vendorA, cabinA1, 1000, nil)
	other := h.seedEvent(t, vendorA, cabinA2, 1000, nil)

	cabin := cabinA1
	req := autoRequest(h, vendorA)
	req.CabinID = &cabin
	outcome, err := h.batcher.Settle(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, outcome.Batch)
	require.NotNil(t, outcome.Batch.CabinID)
	assert.Equal(t, cabinA1, *outcome.Batch.CabinID)

	assert.Equal(t, revenuedomain.PayoutStatusIncluded, h.event(t, own.ID).PayoutStatus)
	assert.Equal(t, revenuedomain.PayoutStatusPending, h.event(t, other.ID).PayoutStatus)
}

func TestSettleWindowEndIsUpperBoundOnly(t *testing.T) {
	h := newHarness(t)
	old := h.seedEvent(t, vendorA, cabinA1, 600, nil)
	h.clock.Advance(30 * 24 * time.Hour)
	recent := h.seedEvent(t, vendorA, cabinA1, 600, nil)

	req := autoRequest(h, vendorA)
	req.Window.Start = h.clock.Now().Add(-24 * time.Hour)
	outcome, err := h.batcher.Settle(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, outcome.Batch)
	assert.Equal(t, 2, outcome.Totals.EventCount)
	assert.Equal(t, revenuedomain.PayoutStatusIncluded, h.event(t, old.ID).PayoutStatus)
	assert.Equal(t, revenuedomain.PayoutStatusIncluded, h.event(t, recent.ID).PayoutStatus)
	require.NotNil(t, outcome.Batch.PeriodStart)
	assert.True(t, outcome.Batch.PeriodStart.Equal(old.OccurredAt))
}

func TestSettleRejectsIneligibleVendor(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Model(&vendordomain.Vendor{}).Where("id = ?", vendorA).
		Update("status", vendordomain.StatusSuspended).Error)
	h.seedEvent(t, vendorA, cabinA1, 1000, nil)

	_, err := h.batcher.Settle(context.Background(), autoRequest(h, vendorA))
	require.ErrorIs(t, err, vendordomain.ErrVendorNotEligible)

	_, err = h.batcher.Settle(context.Background(), autoRequest(h, 999))
	require.ErrorIs(t, err, vendordomain.ErrNotFound)
}

func TestSettleValidatesRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.batcher.Settle(ctx, domain.SettleRequest{Type: domain.BatchTypeAuto})
	require.ErrorIs(t, err, domain.ErrInvalidVendor)
	_, err = h.batcher.Settle(ctx, domain.SettleRequest{VendorID: vendorA, Type: "weekly"})
	require.ErrorIs(t, err, domain.ErrInvalidType)
	_, err = h.batcher.Settle(ctx, domain.SettleRequest{VendorID: vendorA, Type: domain.BatchTypeManual})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestSettleReturnsScopeBusyWhileLocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedEvent(t, vendorA, cabinA1, 1000, nil)

	key := lock.VendorScopeKey(vendorA)
	token, ok, err := h.locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.ErrorIs(t, err, domain.ErrScopeBusy)
	assert.Zero(t, h.countBatches(t))

	require.NoError(t, h.locker.Release(ctx, key, token))
	outcome, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.NoError(t, err)
	assert.NotNil(t, outcome.Batch)
}

func TestSettleConcurrentRunsCreateOneBatch(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.seedEvent(t, vendorA, cabinA1, 1000, nil)
	}

	var created, busy atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := h.batcher.Settle(context.Background(), autoRequest(h, vendorA))
			switch {
			case err == nil && outcome.Batch != nil:
				created.Add(1)
			case err != nil:
				assert.ErrorIs(t, err, domain.ErrScopeBusy)
				busy.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int64(1), h.countBatches(t))
}

// conflictingClaims fails the first n claims as if another run won the race.
type conflictingClaims struct {
	revenuedomain.Repository
	remaining atomic.Int32
}

func (c *conflictingClaims) Claim(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, batchID snowflake.ID, now time.Time) error {
	if c.remaining.Add(-1) >= 0 {
		return revenuedomain.ErrClaimConflict
	}
	return c.Repository.Claim(ctx, tx, ids, batchID, now)
}

func TestSettleRetriesClaimConflictOnce(t *testing.T) {
	conflicts := &conflictingClaims{Repository: revenuerepo.Provide()}
	conflicts.remaining.Store(1)
	h := newHarness(t, withRevenueRepo(conflicts))
	h.seedEvent(t, vendorA, cabinA1, 1000, nil)

	outcome, err := h.batcher.Settle(context.Background(), autoRequest(h, vendorA))
	require.NoError(t, err)
	require.NotNil(t, outcome.Batch)
	assert.Equal(t, int64(1), h.countBatches(t))

	expected := `
# HELP settlement_claim_retries_total Claims retried after losing a race for revenue events.
# TYPE settlement_claim_retries_total counter
settlement_claim_retries_total{env="unknown",service="settlement"} 1
`
	require.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "settlement_claim_retries_total"))
}

func TestSettlePersistentClaimConflictRollsBack(t *testing.T) {
	conflicts := &conflictingClaims{Repository: revenuerepo.Provide()}
	conflicts.remaining.Store(10)
	h := newHarness(t, withRevenueRepo(conflicts))
	event := h.seedEvent(t, vendorA, cabinA1, 1000, nil)

	_, err := h.batcher.Settle(context.Background(), autoRequest(h, vendorA))
	require.ErrorIs(t, err, revenuedomain.ErrClaimConflict)
	assert.Zero(t, h.countBatches(t))

	var items int64
	require.NoError(t, h.db.Model(&domain.Item{}).Count(&items).Error)
	assert.Zero(t, items)
	assert.Equal(t, revenuedomain.PayoutStatusPending, h.event(t, event.ID).PayoutStatus)
}
