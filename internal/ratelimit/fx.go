package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/comms/internal/config"
	messagedomain "github.com/smallbiznis/comms/internal/message/domain"
	"go.uber.org/fx"
)

type params struct {
	fx.In

	Redis  *redis.Client `optional:"true"`
	Policy *config.PolicyHolder
}

var Module = fx.Module("rate.limit",
	fx.Provide(func(p params) messagedomain.PostLimiter {
		return NewMessagePostLimiter(p.Redis, p.Policy)
	}),
)
