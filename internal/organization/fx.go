package organization

import (
	"github.com/smallbiznis/comms/internal/organization/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.directory",
	fx.Provide(repository.NewDirectory),
)
