package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"
	calldomain "github.com/smallbiznis/comms/internal/call/domain"
	channeldomain "github.com/smallbiznis/comms/internal/channel/domain"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/internal/config"
	"github.com/smallbiznis/comms/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("realtime",
	fx.Provide(newHub),
	fx.Provide(newBroker),
	fx.Provide(NewRevoker),
	fx.Provide(func(r *Revoker) channeldomain.MembershipObserver { return r }),
	fx.Provide(newDispatcher),
	fx.Provide(func(d *Dispatcher) Publisher { return d }),
	fx.Provide(NewTypingTracker),
	fx.Provide(func(s channeldomain.Service) AccessChecker { return s }),
	fx.Provide(func(s calldomain.Service) CallStateReader { return s }),
	fx.Provide(NewGateway),
)

func newHub(policy *config.PolicyHolder, m *metrics.Realtime) *Hub {
	return NewHub(policy.Get().SubscriberBuffer, m)
}

type brokerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.Logger
	Hub       *Hub
	Redis     *redis.Client `optional:"true"`
}

// newBroker relays through redis when a client is configured, otherwise the
// local hub is the whole audience.
func newBroker(p brokerParams) Broker {
	if p.Redis == nil {
		return p.Hub
	}
	relay := NewRedisRelay(p.Redis, p.Hub, p.Log)
	p.Lifecycle.Append(fx.Hook{
		OnStart: relay.Start,
		OnStop: func(context.Context) error {
			return relay.Stop()
		},
	})
	return relay
}

func newDispatcher(lc fx.Lifecycle, log *zap.Logger, c clock.Clock, broker Broker, m *metrics.Realtime, policy *config.PolicyHolder) *Dispatcher {
	p := policy.Get()
	d := NewDispatcher(log, c, broker, m, p.FanoutQueueSize, p.FanoutWorkers)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			d.Stop()
			return nil
		},
	})
	return d
}
