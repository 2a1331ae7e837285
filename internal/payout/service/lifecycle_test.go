package service

import (
	"context"
	"errors"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"github.com/smallbiznis/settlement/internal/payout/domain"
	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(v string) *string { return &v }

func TestCompleteManualBatchReleasesBalance(t *testing.T) {
	h := newHarness(t)
	seedScenario(t, h)
	ctx := context.Background()

	resp, err := h.manual.Request(ctx, domain.ManualPayoutRequest{VendorID: vendorA.String(), RequestedAmount: 1000})
	require.NoError(t, err)
	require.Equal(t, int64(950), h.balance(t, vendorA))

	h.clock.Advance(time.Hour)
	processing, err := h.lifecycle.Transition(ctx, domain.TransitionRequest{
		BatchID: resp.Batch.ID.String(),
		Status:  "processing",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusProcessing, processing.Status)
	assert.Nil(t, processing.ProcessedAt)
	assert.Equal(t, int64(950), h.balance(t, vendorA))

	completed, err := h.lifecycle.Transition(ctx, domain.TransitionRequest{
		BatchID:       resp.Batch.ID.String(),
		Status:        "completed",
		TransactionID: strPtr(" txn-42 "),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, completed.Status)
	require.NotNil(t, completed.ProcessedAt)
	assert.True(t, completed.ProcessedAt.Equal(h.clock.Now()))
	require.NotNil(t, completed.TransactionID)
	assert.Equal(t, "txn-42", *completed.TransactionID)
	assert.Zero(t, h.balance(t, vendorA))

	var audits []auditdomain.AuditLog
	require.NoError(t, h.db.Where("action = ?", "payout.transition").Find(&audits).Error)
	assert.Len(t, audits, 2)
}

func TestCompleteAutoBatchKeepsBalance(t *testing.T) {
	h := newHarness(t)
	seedScenario(t, h)
	ctx := context.Background()

	require.NoError(t, h.tracker.Reserve(ctx, h.db, vendorA, 300))
	outcome, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.NoError(t, err)
	require.NotNil(t, outcome.Batch)

	_, err = h.lifecycle.Transition(ctx, domain.TransitionRequest{BatchID: outcome.Batch.ID.String(), Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), h.balance(t, vendorA))
}

func TestFailedBatchReturnsEventsToNextSweep(t *testing.T) {
	h := newHarness(t)
	events := seedScenario(t, h)
	ctx := context.Background()

	outcome, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.NoError(t, err)
	require.NotNil(t, outcome.Batch)

	failed, err := h.lifecycle.Transition(ctx, domain.TransitionRequest{
		BatchID: outcome.Batch.ID.String(),
		Status:  "failed",
		Notes:   strPtr("bank rejected transfer"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusFailed, failed.Status)
	require.NotNil(t, failed.Notes)
	assert.Equal(t, "bank rejected transfer", *failed.Notes)
	for _, e := range events {
		stored := h.event(t, e.ID)
		assert.Equal(t, revenuedomain.PayoutStatusPending, stored.PayoutStatus)
		assert.Nil(t, stored.PayoutID)
	}

	h.clock.Advance(24 * time.Hour)
	next, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.NoError(t, err)
	require.NotNil(t, next.Batch)
	assert.NotEqual(t, outcome.Batch.ID, next.Batch.ID)
	assert.Equal(t, int64(2800), next.Batch.NetAmount)

	// membership of the failed batch stays fixed
	items, err := h.repo.ListItems(ctx, h.db, outcome.Batch.ID)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestCancelManualBatchReleasesEventsAndBalance(t *testing.T) {
	h := newHarness(t)
	events := seedScenario(t, h)
	ctx := context.Background()

	resp, err := h.manual.Request(ctx, domain.ManualPayoutRequest{VendorID: vendorA.String(), RequestedAmount: 1000})
	require.NoError(t, err)

	_, err = h.lifecycle.Transition(ctx, domain.TransitionRequest{BatchID: resp.Batch.ID.String(), Status: "cancelled"})
	require.NoError(t, err)
	assert.Zero(t, h.balance(t, vendorA))
	assert.Equal(t, revenuedomain.PayoutStatusPending, h.event(t, events[0].ID).PayoutStatus)
}

func TestTransitionRejectsInvalidMoves(t *testing.T) {
	h := newHarness(t)
	seedScenario(t, h)
	ctx := context.Background()

	outcome, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.NoError(t, err)
	id := outcome.Batch.ID.String()

	_, err = h.lifecycle.Transition(ctx, domain.TransitionRequest{BatchID: id, Status: "pending"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.lifecycle.Transition(ctx, domain.TransitionRequest{BatchID: id, Status: "completed"})
	require.NoError(t, err)

	for _, status := range []string{"processing", "failed", "cancelled", "completed"} {
		_, err = h.lifecycle.Transition(ctx, domain.TransitionRequest{BatchID: id, Status: status})
		require.ErrorIs(t, err, domain.ErrInvalidTransition, status)
	}

	batch, err := h.lifecycle.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, batch.Batch.Status)

	_, err = h.lifecycle.Transition(ctx, domain.TransitionRequest{BatchID: id, Status: "paid"})
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = h.lifecycle.Transition(ctx, domain.TransitionRequest{BatchID: "42", Status: "completed"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.lifecycle.Transition(ctx, domain.TransitionRequest{BatchID: "nope", Status: "completed"})
	require.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestGetReturnsItems(t *testing.T) {
	h := newHarness(t)
	seedScenario(t, h)
	ctx := context.Background()

	outcome, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.NoError(t, err)

	detail, err := h.lifecycle.Get(ctx, outcome.Batch.ID.String())
	require.NoError(t, err)
	assert.Equal(t, outcome.Batch.ID, detail.Batch.ID)
	assert.Len(t, detail.Items, 3)

	_, err = h.lifecycle.Get(ctx, "42")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	seedScenario(t, h)
	ctx := context.Background()

	outcome, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
	require.NoError(t, err)
	id := outcome.Batch.ID.String()

	result, err := h.lifecycle.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, result.Stored, result.Items)
	assert.Equal(t, int64(2800), result.Items.Net)

	require.NoError(t, h.db.Model(&domain.Batch{}).Where("id = ?", outcome.Batch.ID).
		Update("gross_amount", 9999).Error)
	_, err = h.lifecycle.Reconcile(ctx, id)
	require.ErrorIs(t, err, domain.ErrReconcileMismatch)
	var mismatch *domain.ReconcileMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, int64(9999), mismatch.Stored.Gross)
	assert.Equal(t, int64(3500), mismatch.Computed.Gross)
}

func TestReconcileManualAndReleasedBatches(t *testing.T) {
	h := newHarness(t)
	events := seedScenario(t, h)
	ctx := context.Background()

	resp, err := h.manual.Request(ctx, domain.ManualPayoutRequest{VendorID: vendorA.String(), RequestedAmount: 1000})
	require.NoError(t, err)
	id := resp.Batch.ID.String()

	_, err = h.lifecycle.Reconcile(ctx, id)
	require.NoError(t, err)

	_, err = h.lifecycle.Transition(ctx, domain.TransitionRequest{BatchID: id, Status: "failed"})
	require.NoError(t, err)
	_, err = h.lifecycle.Reconcile(ctx, id)
	require.NoError(t, err)

	// a released batch must not still own its events
	require.NoError(t, h.db.Model(&revenuedomain.RevenueEvent{}).Where("id = ?", events[0].ID).
		Updates(map[string]any{"payout_status": revenuedomain.PayoutStatusIncluded, "payout_id": resp.Batch.ID}).Error)
	_, err = h.lifecycle.Reconcile(ctx, id)
	require.ErrorIs(t, err, domain.ErrReconcileMismatch)
}

func TestListFiltersAndPages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var created []domain.Batch
	for i := 0; i < 3; i++ {
		h.seedEvent(t, vendorA, cabinA1, 1000, nil)
		outcome, err := h.batcher.Settle(ctx, autoRequest(h, vendorA))
		require.NoError(t, err)
		require.NotNil(t, outcome.Batch)
		created = append(created, *outcome.Batch)
		h.clock.Advance(time.Minute)
	}
	h.seedEvent(t, vendorB, cabinB1, 1000, nil)
	_, err := h.batcher.Settle(ctx, autoRequest(h, vendorB))
	require.NoError(t, err)

	req := domain.ListBatchesRequest{VendorID: vendorA.String()}
	req.PageSize = 2
	first, err := h.lifecycle.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.Batches, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, created[2].ID, first.Batches[0].ID)
	assert.Equal(t, created[1].ID, first.Batches[1].ID)

	req.PageToken = first.NextPageToken
	second, err := h.lifecycle.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, second.Batches, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, created[0].ID, second.Batches[0].ID)

	all, err := h.lifecycle.List(ctx, domain.ListBatchesRequest{Status: "pending", Type: "auto"})
	require.NoError(t, err)
	assert.Len(t, all.Batches, 4)

	_, err = h.lifecycle.List(ctx, domain.ListBatchesRequest{Status: "paid"})
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = h.lifecycle.List(ctx, domain.ListBatchesRequest{Pagination: pagination.Pagination{PageToken: "garbage"}})
	require.ErrorIs(t, err, domain.ErrInvalidPageToken)

	from := h.clock.Now()
	to := from.Add(-time.Hour)
	_, err = h.lifecycle.List(ctx, domain.ListBatchesRequest{From: &from, To: &to})
	require.ErrorIs(t, err, domain.ErrInvalidDateRange)
}
