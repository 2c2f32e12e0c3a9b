package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/internal/config"
	"github.com/smallbiznis/comms/internal/migration"
	"github.com/smallbiznis/comms/internal/observability"
	"github.com/smallbiznis/comms/internal/server"
	"github.com/smallbiznis/comms/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
