package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/provenance/internal/clock"
	"github.com/smallbiznis/provenance/internal/config"
	"github.com/smallbiznis/provenance/internal/migration"
	"github.com/smallbiznis/provenance/internal/observability"
	"github.com/smallbiznis/provenance/internal/server"
	"github.com/smallbiznis/provenance/pkg/db"
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

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
