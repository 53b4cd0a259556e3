package main

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	"github.com/smallbiznis/lantern/internal/inventory"
	"github.com/smallbiznis/lantern/internal/lock"
	"github.com/smallbiznis/lantern/internal/migration"
	"github.com/smallbiznis/lantern/internal/observability"
	"github.com/smallbiznis/lantern/internal/report"
	"github.com/smallbiznis/lantern/internal/usage"
	"github.com/smallbiznis/lantern/pkg/db"
	"github.com/smallbiznis/lantern/pkg/kv"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// coreModules is the graph shared by every command: storage, the usage
// pipeline and its read models.
func coreModules() []fx.Option {
	return []fx.Option{
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		kv.Module,
		lock.Module,
		migration.Module,

		// Functional Domains
		usage.Module,
		inventory.Module,
		report.Module,
	}
}

// runOneShot starts the core graph, populates targets, runs fn and stops.
func runOneShot(cmd *cobra.Command, fn func(ctx context.Context) error, targets ...any) error {
	return runOneShotWith(cmd, nil, fn, targets...)
}

func runOneShotWith(cmd *cobra.Command, extra []fx.Option, fn func(ctx context.Context) error, targets ...any) error {
	opts := append(coreModules(), extra...)
	opts = append(opts, fx.NopLogger, fx.Populate(targets...))
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}

	ctx := cmd.Context()
	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.StopTimeout())
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}

func resolveTenant(cfg config.Config) int64 {
	if tenantFlag > 0 {
		return tenantFlag
	}
	return cfg.DefaultTenantID
}
