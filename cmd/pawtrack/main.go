package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pawtrack/internal/clock"
	"github.com/smallbiznis/pawtrack/internal/config"
	"github.com/smallbiznis/pawtrack/internal/migration"
	"github.com/smallbiznis/pawtrack/internal/observability"
	"github.com/smallbiznis/pawtrack/internal/server"
	"github.com/smallbiznis/pawtrack/pkg/db"
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
