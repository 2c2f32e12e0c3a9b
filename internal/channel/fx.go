package channel

import (
	"github.com/smallbiznis/comms/internal/channel/repository"
	"github.com/smallbiznis/comms/internal/channel/service"
	"go.uber.org/fx"
)

var Module = fx.Module("channel.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
