package storage

import (
	"github.com/smallbiznis/comms/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.storage",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) (Resolver, error) {
	if !cfg.Storage.Enabled() {
		log.Info("object storage not configured, attachment urls disabled")
		return NoOpResolver{}, nil
	}
	return NewMinIO(Config{
		Endpoint:   cfg.Storage.Endpoint,
		AccessKey:  cfg.Storage.AccessKey,
		SecretKey:  cfg.Storage.SecretKey,
		Bucket:     cfg.Storage.Bucket,
		UseSSL:     cfg.Storage.UseSSL,
		PresignTTL: cfg.Storage.PresignTTL,
	})
}
