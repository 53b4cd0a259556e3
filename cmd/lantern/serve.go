package main

import (
	"github.com/smallbiznis/lantern/internal/config"
	"github.com/smallbiznis/lantern/internal/ratelimit"
	"github.com/smallbiznis/lantern/internal/scheduler"
	"github.com/smallbiznis/lantern/internal/server"
	"github.com/smallbiznis/lantern/internal/tracker"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the debounced background queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := append(coreModules(),
			scheduler.Module,
			tracker.Module,
			ratelimit.Module,
			server.Module,
		)
		app := fx.New(opts...)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the periodic flush, aggregate and scan loop without HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := append(coreModules(),
			scheduler.Module,
			fx.Decorate(func(cfg config.Config) config.Config {
				cfg.WorkerPeriodic = true
				return cfg
			}),
		)
		app := fx.New(opts...)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}
