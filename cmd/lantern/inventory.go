package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	inventorydomain "github.com/smallbiznis/lantern/internal/inventory/domain"
	"github.com/smallbiznis/lantern/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Discover resources under INVENTORY_ROOT",
}

var inventoryScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Walk the inventory root and sync known resources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg   config.Config
			svc   inventorydomain.Service
			flags scheduler.Flags
			clk   clock.Clock
		)
		extra := []fx.Option{fx.Provide(scheduler.ProvideFlags)}
		return runOneShotWith(cmd, extra, func(ctx context.Context) error {
			tenantID := resolveTenant(cfg)
			res := svc.Scan(ctx, tenantID)
			if res.Err != nil {
				return res.Err
			}
			if err := scheduler.MarkScan(ctx, flags, tenantID, clk.Now()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: scan flag not recorded: %v\n", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "found %s  added %s  updated %s  removed %s\n",
				count(int64(res.Found)), count(int64(res.Added)), count(int64(res.Updated)), count(int64(res.Removed)))
			return nil
		}, &cfg, &svc, &flags, &clk)
	},
}

var inventoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active inventory entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg config.Config
			svc inventorydomain.Service
		)
		return runOneShot(cmd, func(ctx context.Context) error {
			items, err := svc.ListKnownResources(ctx, resolveTenant(cfg))
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "RESOURCE", "FILE", "MODIFIED")
			for _, k := range items {
				row(tw, k.ResourceKey, k.FilePath, when(k.LastModified))
			}
			return tw.Flush()
		}, &cfg, &svc)
	},
}

func init() {
	inventoryCmd.AddCommand(inventoryScanCmd)
	inventoryCmd.AddCommand(inventoryListCmd)
}
