package message

import (
	"github.com/smallbiznis/comms/internal/message/repository"
	"github.com/smallbiznis/comms/internal/message/service"
	"go.uber.org/fx"
)

var Module = fx.Module("message.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
