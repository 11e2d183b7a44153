package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/ydb-platform/ydb-go-topic/internal/config"
	"github.com/ydb-platform/ydb-go-topic/internal/driver"
	"github.com/ydb-platform/ydb-go-topic/internal/obs"
)

// runDiscover builds the fx composition root demonstrating Driver+discovery
// wiring end to end, following cmd/fx.go's
// fx.New(fx.Provide(...), fx.Invoke(...)) shape.
func runDiscover(c *cli.Context) error {
	cfg, _, err := config.Load(c.String(flagCfg), nil)
	if err != nil {
		return err
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideDriver(c.String(flagConn)),
		),
		fx.Invoke(func(lc fx.Lifecycle, d *driver.Driver, logger *slog.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					d.Run(ctx)
					select {
					case <-d.Ready():
						logger.Info("driver ready")
					case <-time.After(5 * time.Second):
						logger.Warn("driver not ready after 5s, continuing anyway")
					}
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return d.Close()
				},
			})
		}),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	return app.Stop(context.Background())
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return obs.NewLogger(obs.LogConfig{JSON: cfg.Log.JSON}).With(slog.String("area", "ydbtopic.discover"))
}

func provideDriver(connStr string) func(cfg *config.Config, logger *slog.Logger) (*driver.Driver, error) {
	return func(cfg *config.Config, logger *slog.Logger) (*driver.Driver, error) {
		params, err := driver.ParseConnectionString(connStr)
		if err != nil {
			return nil, err
		}
		return driver.New(driver.Config{
			Database:        params.Database,
			EnableDiscovery: false,
			TokenTimeout:    cfg.Driver.TokenTimeout(),
			Logger:          logger,
		}), nil
	}
}
