package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/lantern/internal/config"
	"github.com/smallbiznis/lantern/internal/usage/accumulator"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and drain the in-flight accumulator",
	Long: `Inspect and drain the in-flight accumulator.

The accumulator lives in the shared store. With STORE_BACKEND=memory each
process has its own, so these commands only see hits recorded by themselves.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pending hits per tenant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg config.Config
			acc *accumulator.Accumulator
		)
		return runOneShot(cmd, func(ctx context.Context) error {
			tenants, err := acc.Tenants(ctx)
			if err != nil {
				return err
			}
			if !cfg.UsesRedis() {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: memory backend, stats cover this process only")
			}

			tw := newTable(cmd.OutOrStdout(), "TENANT", "RESOURCES", "HITS")
			for _, tenantID := range tenants {
				if tenantFlag > 0 && tenantID != tenantFlag {
					continue
				}
				n, err := acc.Count(ctx, tenantID)
				if err != nil {
					return err
				}
				hits, err := acc.TotalHits(ctx, tenantID)
				if err != nil {
					return err
				}
				row(tw, tenantID, count(int64(n)), count(hits))
			}
			return tw.Flush()
		}, &cfg, &acc)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard pending hits without persisting them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg config.Config
			acc *accumulator.Accumulator
		)
		return runOneShot(cmd, func(ctx context.Context) error {
			res, err := acc.Clear(ctx, resolveTenant(cfg))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s hits across %s resources for tenant %d\n",
				count(res.Hits), count(int64(res.Resources)), res.TenantID)
			return nil
		}, &cfg, &acc)
	},
}

var flushAllFlag bool

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Persist pending hits to totals and daily rows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg config.Config
			svc usagedomain.Service
		)
		return runOneShot(cmd, func(ctx context.Context) error {
			var results []usagedomain.FlushResult
			if flushAllFlag {
				results = svc.FlushAll(ctx)
			} else {
				results = []usagedomain.FlushResult{svc.Flush(ctx, resolveTenant(cfg))}
			}

			failed := 0
			tw := newTable(cmd.OutOrStdout(), "TENANT", "RESOURCES", "HITS", "STATUS")
			for _, res := range results {
				status := "ok"
				switch {
				case res.Skipped:
					status = "skipped: " + res.Message
				case !res.Success:
					status = "failed: " + res.Message
					failed++
				}
				row(tw, res.TenantID, count(int64(res.ResourcesProcessed)), count(res.TotalHitsProcessed), status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d flush(es) failed", failed)
			}
			return nil
		}, &cfg, &svc)
	},
}

func init() {
	cacheFlushCmd.Flags().BoolVar(&flushAllFlag, "all", false, "Flush every tenant with pending hits")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheFlushCmd)
}
