package guard

import (
	"testing"
	"time"

	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureVendorDue(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	require.NoError(t, EnsureVendorDue(vendordomain.StatusApproved, true, true, nil, now))
	require.NoError(t, EnsureVendorDue(vendordomain.StatusApproved, true, true, &past, now))
	require.NoError(t, EnsureVendorDue(vendordomain.StatusApproved, true, true, &now, now))

	assert.ErrorIs(t, EnsureVendorDue(vendordomain.StatusSuspended, true, true, nil, now), ErrVendorNotApproved)
	assert.ErrorIs(t, EnsureVendorDue(vendordomain.StatusApproved, false, true, nil, now), ErrVendorInactive)
	assert.ErrorIs(t, EnsureVendorDue(vendordomain.StatusApproved, true, false, nil, now), ErrAutoPayoutDisabled)
	assert.ErrorIs(t, EnsureVendorDue(vendordomain.StatusApproved, true, true, &future, now), ErrNotDue)
}

func TestSettlementWindow(t *testing.T) {
	now := time.Date(2025, 5, 8, 0, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour

	first := SettlementWindow(nil, now, week)
	assert.Equal(t, now.Add(-week), first.Start)
	assert.Equal(t, now, first.End)

	last := now.Add(-3 * 24 * time.Hour)
	next := SettlementWindow(&last, now, week)
	assert.Equal(t, last, next.Start)
}
