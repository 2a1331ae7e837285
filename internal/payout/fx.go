package payout

import (
	"github.com/smallbiznis/settlement/internal/payout/domain"
	"github.com/smallbiznis/settlement/internal/payout/repository"
	"github.com/smallbiznis/settlement/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(
			service.NewBatcher,
			fx.As(fx.Self()),
			fx.As(new(domain.Batcher)),
		),
	),
	fx.Provide(service.NewManualService),
	fx.Provide(service.NewLifecycleService),
)
