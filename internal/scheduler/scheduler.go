package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"github.com/smallbiznis/settlement/internal/authorization"
	"github.com/smallbiznis/settlement/internal/balance"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	obslogger "github.com/smallbiznis/settlement/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/settlement/internal/payout/domain"
	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
	"github.com/smallbiznis/settlement/internal/scheduler/guard"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jobAutoSettlement = "auto_settlement"

var (
	ErrInvalidConfig  = errors.New("invalid_scheduler_config")
	ErrAlreadyStarted = errors.New("scheduler_already_started")
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Config      *config.SettlementConfigHolder
	Batcher     payoutdomain.Batcher
	VendorRepo  vendordomain.Repository
	RevenueRepo revenuedomain.Repository
	Tracker     *balance.Tracker
	AuthzSvc    authorization.Service `optional:"true"`
	AuditSvc    auditdomain.Service   `optional:"true"`
}

// RunSummary counts what one sweep did.
type RunSummary struct {
	RunID          string `json:"run_id"`
	VendorsDue     int    `json:"vendors_due"`
	BatchesCreated int    `json:"batches_created"`
	Skipped        int    `json:"skipped"`
	ScopeBusy      int    `json:"scope_busy"`
	Failed         int    `json:"failed"`
}

// Scheduler sweeps vendors whose auto payout is due. It is started and stopped
// by the fx lifecycle and can be triggered on demand through RunOnce.
type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	cfg         *config.SettlementConfigHolder
	batcher     payoutdomain.Batcher
	vendorRepo  vendordomain.Repository
	revenueRepo revenuedomain.Repository
	tracker     *balance.Tracker
	authzSvc    authorization.Service
	auditSvc    auditdomain.Service
	metrics     *obsmetrics.SettlementMetrics

	runMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Batcher == nil || p.VendorRepo == nil || p.RevenueRepo == nil || p.Tracker == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:       p.Clock,
		cfg:         p.Config,
		batcher:     p.Batcher,
		vendorRepo:  p.VendorRepo,
		revenueRepo: p.RevenueRepo,
		tracker:     p.Tracker,
		authzSvc:    p.AuthzSvc,
		auditSvc:    p.AuditSvc,
		metrics:     obsmetrics.Settlement(),
	}, nil
}

// Start runs a bootstrap sweep in the background and then one per RunInterval.
func (s *Scheduler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runForever(ctx, s.done)
	s.log.Info("settlement scheduler started", zap.Duration("run_interval", s.cfg.Get().RunInterval))
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		s.log.Info("settlement scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runForever(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := s.cfg.Get().RunInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := time.Now().Add(interval)

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Warn("bootstrap settlement run failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if lag := time.Since(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("settlement run failed", zap.Error(err))
		}

		// RunInterval is hot reloadable.
		if current := s.cfg.Get().RunInterval; current != interval {
			interval = current
			ticker.Reset(interval)
		}
		nextRun = time.Now().Add(interval)
	}
}

// RunOnce performs one full sweep. Concurrent calls are serialized; per-vendor
// failures are joined into the returned error without stopping the sweep.
func (s *Scheduler) RunOnce(parent context.Context) (RunSummary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	cfg := s.cfg.Get()
	var summary RunSummary
	err := s.runJob(parent, jobAutoSettlement, cfg.BatchSize, cfg.JobTimeout, &summary, func(ctx context.Context, run *jobRun) error {
		if err := s.authorizeSystem(ctx); err != nil {
			return err
		}

		now := s.clock.Now()
		var (
			jobErr     error
			unfinished []DueVendor
		)
		// Restored only after the loop so a vendor is attempted once per run.
		defer func() { s.restoreSchedules(ctx, unfinished) }()
		for {
			due, err := s.claimDueVendors(ctx, now, cfg.BatchSize, cfg.DefaultFrequencyDays)
			if err != nil {
				return errors.Join(jobErr, err)
			}
			if len(due) == 0 {
				break
			}
			summary.VendorsDue += len(due)
			run.AddProcessed(len(due))
			s.metrics.AddVendorsProcessed(jobAutoSettlement, len(due))

			left, err := s.settleDue(ctx, run, due, now, cfg, &summary)
			unfinished = append(unfinished, left...)
			jobErr = errors.Join(jobErr, err)
			if len(due) < cfg.BatchSize {
				break
			}
		}

		s.publishLiabilities(ctx)
		s.auditSweep(ctx, summary)
		return jobErr
	})
	return summary, err
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	summary *RunSummary,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	summary.RunID = run.runID
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	err := fn(ctx, run)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run, *summary)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
	}
	s.metrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

// settleDue settles claimed vendors with at most cfg.Concurrency in flight. It
// returns the vendors that failed, hit a busy scope or were not reached before
// ctx ended.
func (s *Scheduler) settleDue(ctx context.Context, run *jobRun, due []DueVendor, now time.Time, cfg config.SettlementConfig, summary *RunSummary) ([]DueVendor, error) {
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		joined     error
		unfinished []DueVendor
	)
	sem := make(chan struct{}, workers)
dispatch:
	for i, vendor := range due {
		select {
		case <-ctx.Done():
			mu.Lock()
			unfinished = append(unfinished, due[i:]...)
			joined = errors.Join(joined, ctx.Err())
			mu.Unlock()
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(vendor DueVendor) {
			defer wg.Done()
			defer func() { <-sem }()

			tally, err := s.settleVendor(ctx, vendor, now, cfg.DefaultFrequencyDays)

			mu.Lock()
			defer mu.Unlock()
			summary.BatchesCreated += tally.BatchesCreated
			summary.Skipped += tally.Skipped
			summary.ScopeBusy += tally.ScopeBusy
			if err != nil || tally.ScopeBusy > 0 {
				unfinished = append(unfinished, vendor)
			}
			if err != nil {
				summary.Failed++
				s.logSchedulerError(ctx, run, "settlement.vendor.failed", vendor.ID, err)
				joined = errors.Join(joined, fmt.Errorf("vendor %s: %w", vendor.ID, err))
			}
		}(vendor)
	}
	wg.Wait()
	return unfinished, joined
}

// settleVendor runs one Settle per active cabin in per-cabin mode, followed by a
// vendor-wide pass over revenue of cabins that are no longer active. Otherwise
// it runs one vendor-wide Settle.
func (s *Scheduler) settleVendor(ctx context.Context, vendor DueVendor, now time.Time, defaultDays int) (RunSummary, error) {
	window := guard.SettlementWindow(vendor.LastAutoPayoutAt, now, vendor.frequency(defaultDays))
	log := obslogger.WithVendor(s.logger(ctx), vendor.ID.String(), "")

	requests := []payoutdomain.SettleRequest{{VendorID: vendor.ID, Type: payoutdomain.BatchTypeAuto, Window: window}}
	if vendor.PerCabinPayout {
		cabins, err := s.vendorRepo.ListActiveCabins(ctx, s.db, vendor.ID)
		if err != nil {
			return RunSummary{}, err
		}
		requests = requests[:0]
		active := make([]snowflake.ID, 0, len(cabins))
		for _, cabin := range cabins {
			cabinID := cabin.ID
			active = append(active, cabinID)
			requests = append(requests, payoutdomain.SettleRequest{
				VendorID: vendor.ID,
				CabinID:  &cabinID,
				Type:     payoutdomain.BatchTypeAuto,
				Window:   window,
			})
		}
		requests = append(requests, payoutdomain.SettleRequest{
			VendorID:        vendor.ID,
			Type:            payoutdomain.BatchTypeAuto,
			Window:          window,
			ExcludeCabinIDs: active,
		})
	}

	var tally RunSummary
	var errs error
	for _, req := range requests {
		outcome, err := s.batcher.Settle(ctx, req)
		residual := len(req.ExcludeCabinIDs) > 0
		switch {
		case errors.Is(err, payoutdomain.ErrScopeBusy):
			tally.ScopeBusy++
			log.Info("settlement scope busy, deferring to next sweep")
		case err != nil:
			errs = errors.Join(errs, err)
		case outcome.Batch != nil:
			tally.BatchesCreated++
			log.Info("auto payout batch created",
				zap.String("batch_id", outcome.Batch.ID.String()),
				zap.Int64("net_amount", outcome.Batch.NetAmount),
				zap.Bool("inactive_cabins", residual),
			)
		case residual && outcome.Skipped == payoutdomain.SkipNoEligibleRevenue:
			// nothing left on inactive cabins
		default:
			tally.Skipped++
			log.Debug("auto payout skipped", zap.String("reason", outcome.Skipped))
		}
	}
	return tally, errs
}

func (s *Scheduler) publishLiabilities(ctx context.Context) {
	outstanding, err := s.tracker.Outstanding(ctx)
	if err != nil {
		s.logger(ctx).Warn("failed to read outstanding payout balance", zap.Error(err))
		return
	}
	pending, err := s.revenueRepo.SumPendingGross(ctx, s.db)
	if err != nil {
		s.logger(ctx).Warn("failed to read pending revenue", zap.Error(err))
		return
	}
	s.metrics.SetLiabilities(outstanding, pending)
}

func (s *Scheduler) auditSweep(ctx context.Context, summary RunSummary) {
	if s.auditSvc == nil || summary.VendorsDue == 0 {
		return
	}
	err := s.auditSvc.AuditLog(ctx, nil, auditdomain.Entry{
		Action:     "settlement.sweep",
		TargetType: "settlement_run",
		TargetID:   summary.RunID,
		Metadata: map[string]any{
			"vendors_due":     summary.VendorsDue,
			"batches_created": summary.BatchesCreated,
			"skipped":         summary.Skipped,
			"scope_busy":      summary.ScopeBusy,
			"failed":          summary.Failed,
		},
	})
	if err != nil {
		s.logger(ctx).Warn("failed to audit settlement sweep", zap.Error(err))
	}
}

func (s *Scheduler) authorizeSystem(ctx context.Context) error {
	if s.authzSvc == nil {
		return nil
	}
	return s.authzSvc.Authorize(ctx, authorization.ActorTypeSystem, "", authorization.ObjectSettlement, authorization.ActionSettlementSweep)
}
