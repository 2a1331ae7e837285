package scheduler

import (
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
)

// Lifecycle starts the sweep loop with the application. Binaries that only
// trigger sweeps on demand provide the Scheduler without invoking this.
var Lifecycle = fx.Invoke(func(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: sched.Start,
		OnStop:  sched.Stop,
	})
})
