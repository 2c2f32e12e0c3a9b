// Package redis provides the shared redis client. Deployments without
// REDIS_ADDR get a nil client and every consumer falls back to its
// single-node behaviour.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/comms/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

var Module = fx.Module("redis",
	fx.Provide(NewClient),
)

func NewClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*goredis.Client, error) {
	if !cfg.Redis.Enabled() {
		log.Info("redis disabled, running single node")
		return nil, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
			}
			log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}
