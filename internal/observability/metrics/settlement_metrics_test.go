package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/settlement/internal/authorization"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: JobReasonDeadlineExceeded},
		{name: "forbidden", err: authorization.ErrForbidden, want: JobReasonForbidden},
		{name: "not_found", err: gorm.ErrRecordNotFound, want: JobReasonNotFound},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "business", err: errors.New("below minimum"), want: JobReasonBusinessRule},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSettlementMetricsCounters(t *testing.T) {
	ResetSettlementMetricsForTest()
	m := Settlement()

	m.IncBatchOutcome("auto", BatchOutcomeCreated)
	m.IncBatchOutcome("auto", BatchOutcomeCreated)
	m.IncBatchOutcome("auto", BatchOutcomeBelowMinimum)
	m.IncBalanceUnderflow()
	m.IncJobError("auto_settlement", &pgconn.PgError{Code: "55P03"})
	m.SetLiabilities(950, 3500)
	m.ObserveHTTPRequest("GET", "/vendor/payouts", 200, time.Millisecond)

	if got := testutil.ToFloat64(m.batchOutcomes.WithLabelValues("auto", BatchOutcomeCreated)); got != 2 {
		t.Fatalf("expected 2 created batches, got %v", got)
	}
	if got := testutil.ToFloat64(m.batchOutcomes.WithLabelValues("auto", BatchOutcomeBelowMinimum)); got != 1 {
		t.Fatalf("expected 1 below minimum, got %v", got)
	}
	if got := testutil.ToFloat64(m.balanceUnderflows); got != 1 {
		t.Fatalf("expected 1 underflow, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("auto_settlement", JobReasonDBLockTimeout)); got != 1 {
		t.Fatalf("expected 1 lock timeout error, got %v", got)
	}
	if got := testutil.ToFloat64(m.outstandingBalance); got != 950 {
		t.Fatalf("expected outstanding 950, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/vendor/payouts", "2xx")); got != 1 {
		t.Fatalf("expected 1 http request, got %v", got)
	}
}

func TestNilSettlementMetricsAreSafe(t *testing.T) {
	var m *SettlementMetrics
	m.IncJobRun("job")
	m.IncJobError("job", errors.New("boom"))
	m.SetLiabilities(1, 2)
	m.ObserveRunLoopLag(-time.Second)
}
