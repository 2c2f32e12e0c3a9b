package notify

import (
	"context"

	"github.com/smallbiznis/comms/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.notify",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Dispatcher, error) {
	if !cfg.Kafka.Enabled() {
		log.Info("kafka not configured, notifications disabled")
		return NoOpDispatcher{}, nil
	}
	dispatcher, err := NewKafka(KafkaConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
		Topic:    cfg.Kafka.NotificationTopic,
	}, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return dispatcher.Close()
		},
	})
	return dispatcher, nil
}
