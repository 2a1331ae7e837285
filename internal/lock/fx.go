package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlement/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewScopeLocker),
)

// NewScopeLocker picks the Redis locker when REDIS_ADDR is set, otherwise an in-process one.
func NewScopeLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) ScopeLocker {
	log = log.Named("lock")
	if !cfg.Redis.Enabled() {
		log.Info("using in-process scope locker")
		return NewMemoryLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("using redis scope locker", zap.String("addr", cfg.Redis.Addr))
	return NewRedisLocker(client)
}
