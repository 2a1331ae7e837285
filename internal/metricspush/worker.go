package metricspush

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/settlement/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultInterval = 5 * time.Minute

// Worker pushes the gathered settlement metrics on a fixed interval.
type Worker struct {
	log      *zap.Logger
	pusher   Pusher
	gatherer prometheus.Gatherer
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Params struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Pusher   Pusher              `optional:"true"`
	Gatherer prometheus.Gatherer `optional:"true"`
}

// NewWorker returns nil when pushing is disabled.
func NewWorker(p Params) *Worker {
	if p.Pusher == nil {
		return nil
	}
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	interval := p.Config.MetricsPush.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		log:      log.Named("metricspush"),
		pusher:   p.Pusher,
		gatherer: gatherer,
		interval: interval,
	}
}

func (w *Worker) Start(context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.log.Info("starting metrics push worker", zap.Duration("interval", w.interval))
	go w.run(ctx, w.done)
	return nil
}

// Stop cancels the loop and makes a final push so the last sweep's gauges land.
func (w *Worker) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.PushOnce(ctx)
	return nil
}

// PushOnce pushes the current metrics and logs any failure.
func (w *Worker) PushOnce(ctx context.Context) {
	if w == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	if err := w.pusher.Push(pushCtx, w.gatherer); err != nil {
		w.log.Warn("metrics push failed", zap.Error(err))
	}
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.PushOnce(ctx)
	for {
		select {
		case <-ticker.C:
			w.PushOnce(ctx)
		case <-ctx.Done():
			w.log.Info("stopping metrics push worker")
			return
		}
	}
}
