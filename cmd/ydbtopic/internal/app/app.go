// Package app wires ydbtopic's command surface, mirroring the teacher's
// cmd.Run() + cmd.serverCmd() split between the cli.App and the fx
// composition root in cmd/fx.go.
package app

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/ydb-platform/ydb-go-topic/internal/config"
	"github.com/ydb-platform/ydb-go-topic/internal/driver"
	"github.com/ydb-platform/ydb-go-topic/internal/obs"
)

const (
	appName  = "ydbtopic"
	flagConn = "connection-string"
	flagCfg  = "config_file"
)

// Run parses argv and dispatches to the read/write/discover subcommands.
func Run(argv []string) error {
	app := &cli.App{
		Name:  appName,
		Usage: "example client for the ydb-go topic SDK",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConn, Usage: "grpc[s]://host[:port][/database]", EnvVars: []string{"YDB_CONNECTION_STRING"}},
			&cli.StringFlag{Name: flagCfg, Usage: "path to the configuration file"},
		},
		Commands: []*cli.Command{
			readCmd(),
			writeCmd(),
			discoverCmd(),
		},
	}
	return app.Run(argv)
}

// buildDriver loads configuration and constructs + runs a Driver, following
// cmd/fx.go's fx.Provide(ProvideLogger, ...) pattern without the fx
// container itself (the subcommands here are single-shot CLI invocations,
// not a long-lived service, so fx's lifecycle hooks would be unused
// ceremony; fx is reserved for wiring the longer-lived discover command
// below).
func buildDriver(c *cli.Context) (*driver.Driver, func(), error) {
	cfg, _, err := config.Load(c.String(flagCfg), nil)
	if err != nil {
		return nil, nil, err
	}

	logger := obs.NewLogger(obs.LogConfig{JSON: cfg.Log.JSON})

	connStr := c.String(flagConn)
	params, err := driver.ParseConnectionString(connStr)
	if err != nil {
		return nil, nil, err
	}

	d := driver.New(driver.Config{
		Database:        params.Database,
		EnableDiscovery: cfg.Driver.EnableDiscovery,
		TokenTimeout:    cfg.Driver.TokenTimeout(),
		Logger:          logger.With(slog.String("area", "ydbtopic.driver")),
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Run(ctx)

	return d, func() {
		cancel()
		_ = d.Close()
	}, nil
}
