package metricspush

import (
	"go.uber.org/fx"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Provide(NewWorker),
	fx.Invoke(func(lc fx.Lifecycle, w *Worker) {
		if w == nil {
			return
		}
		lc.Append(fx.Hook{OnStart: w.Start, OnStop: w.Stop})
	}),
)
