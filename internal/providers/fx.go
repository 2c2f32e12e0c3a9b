package providers

import (
	"github.com/smallbiznis/comms/internal/providers/notify"
	"github.com/smallbiznis/comms/internal/providers/redis"
	"github.com/smallbiznis/comms/internal/providers/storage"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	redis.Module,
	notify.Module,
	storage.Module,
)
