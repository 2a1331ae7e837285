package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/audit"
	"github.com/smallbiznis/settlement/internal/authorization"
	"github.com/smallbiznis/settlement/internal/balance"
	"github.com/smallbiznis/settlement/internal/cache"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/commission"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/lock"
	"github.com/smallbiznis/settlement/internal/metricspush"
	"github.com/smallbiznis/settlement/internal/migration"
	"github.com/smallbiznis/settlement/internal/observability"
	"github.com/smallbiznis/settlement/internal/payout"
	"github.com/smallbiznis/settlement/internal/revenue"
	"github.com/smallbiznis/settlement/internal/scheduler"
	"github.com/smallbiznis/settlement/internal/server"
	"github.com/smallbiznis/settlement/internal/statement"
	"github.com/smallbiznis/settlement/internal/vendors"
	"github.com/smallbiznis/settlement/pkg/db"
	"go.uber.org/fx"
)

// Single-process deployment: HTTP API, sweep loop and migrations together.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		lock.Module,

		// Functional Domains
		audit.Module,
		authorization.Module,
		commission.Module,
		vendors.Module,
		revenue.Module,
		balance.Module,
		payout.Module,
		statement.Module,

		scheduler.Module,
		scheduler.Lifecycle,
		metricspush.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
