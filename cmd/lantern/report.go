package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/smallbiznis/lantern/internal/config"
	reportdomain "github.com/smallbiznis/lantern/internal/report/domain"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/spf13/cobra"
)

var reportFlags struct {
	resource string
	prefix   string
	from     string
	to       string
	days     int
	months   int
	limit    int
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Query persisted usage",
}

var reportTotalsCmd = &cobra.Command{
	Use:   "totals",
	Short: "Lifetime hits per resource, most used first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg config.Config
			svc usagedomain.Service
		)
		return runOneShot(cmd, func(ctx context.Context) error {
			if reportFlags.resource != "" {
				total, err := svc.GetTotal(ctx, resolveTenant(cfg), reportFlags.resource)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout(), "RESOURCE", "HITS", "FIRST SEEN", "LAST USED")
				row(tw, total.ResourceKey, count(total.TotalHits), when(total.FirstSeenAt), when(total.LastUsedAt))
				return tw.Flush()
			}

			items, err := svc.ListTotals(ctx, usagedomain.TotalsFilter{
				TenantID: resolveTenant(cfg),
				Prefix:   reportFlags.prefix,
				Limit:    reportFlags.limit,
			})
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "RESOURCE", "HITS", "LAST USED")
			for _, t := range items {
				row(tw, t.ResourceKey, count(t.TotalHits), when(t.LastUsedAt))
			}
			return tw.Flush()
		}, &cfg, &svc)
	},
}

var reportDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Hits per resource and day (default: last 30 days)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg config.Config
			svc usagedomain.Service
		)
		return runOneShot(cmd, func(ctx context.Context) error {
			items, err := svc.ListDaily(ctx, usagedomain.DailyQuery{
				TenantID:    resolveTenant(cfg),
				ResourceKey: reportFlags.resource,
				From:        reportFlags.from,
				To:          reportFlags.to,
				LastDays:    reportFlags.days,
			})
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "DAY", "RESOURCE", "HITS")
			for _, d := range items {
				row(tw, day(time.Time(d.Day)), d.ResourceKey, count(d.Hits))
			}
			return tw.Flush()
		}, &cfg, &svc)
	},
}

var reportMonthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Hits per resource and aggregated month (default: last 12 months)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg config.Config
			svc usagedomain.Service
		)
		return runOneShot(cmd, func(ctx context.Context) error {
			items, err := svc.ListMonthly(ctx, usagedomain.MonthlyQuery{
				TenantID:    resolveTenant(cfg),
				ResourceKey: reportFlags.resource,
				From:        reportFlags.from,
				To:          reportFlags.to,
				LastMonths:  reportFlags.months,
			})
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "MONTH", "RESOURCE", "HITS")
			for _, m := range items {
				row(tw, usagedomain.MonthOf(time.Time(m.Month)), m.ResourceKey, count(m.Hits))
			}
			return tw.Flush()
		}, &cfg, &svc)
	},
}

var reportUnusedCmd = &cobra.Command{
	Use:   "unused",
	Short: "Tracked resources not used within --days",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg config.Config
			svc usagedomain.Service
		)
		return runOneShot(cmd, func(ctx context.Context) error {
			items, err := svc.ListUnused(ctx, resolveTenant(cfg), reportFlags.days)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "RESOURCE", "HITS", "LAST USED", "IDLE DAYS")
			for _, u := range items {
				row(tw, u.ResourceKey, count(u.TotalHits), when(u.LastUsedAt), idleDays(u.DaysSinceLastUse))
			}
			return tw.Flush()
		}, &cfg, &svc)
	},
}

var reportStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "Inventory entries not used within --days",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg     config.Config
			reports reportdomain.Service
		)
		return runOneShot(cmd, func(ctx context.Context) error {
			days := reportFlags.days
			if days == 0 {
				days = 90
			}
			items, err := reports.Stale(ctx, resolveTenant(cfg), days)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "RESOURCE", "FILE", "HITS", "LAST USED", "IDLE DAYS")
			for _, s := range items {
				row(tw, s.ResourceKey, s.FilePath, count(s.TotalHits), when(s.LastUsedAt), idleDays(s.DaysSinceLastUse))
			}
			return tw.Flush()
		}, &cfg, &reports)
	},
}

var reportOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Inventory entries never used and totals with no inventory entry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			cfg     config.Config
			reports reportdomain.Service
		)
		return runOneShot(cmd, func(ctx context.Context) error {
			orphans, err := reports.Orphans(ctx, resolveTenant(cfg))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "never used (%d)\n", len(orphans.NeverUsed))
			tw := newTable(out, "RESOURCE", "FILE")
			for _, n := range orphans.NeverUsed {
				row(tw, n.ResourceKey, n.FilePath)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nmissing from inventory (%d)\n", len(orphans.Missing))
			tw = newTable(out, "RESOURCE", "HITS", "LAST USED")
			for _, m := range orphans.Missing {
				row(tw, m.ResourceKey, count(m.TotalHits), when(m.LastUsedAt))
			}
			return tw.Flush()
		}, &cfg, &reports)
	},
}

func idleDays(days *int) string {
	if days == nil {
		return "-"
	}
	return strconv.Itoa(*days)
}

func init() {
	f := reportCmd.PersistentFlags()
	f.StringVar(&reportFlags.resource, "resource", "", "Resource name (canonicalized)")
	f.StringVar(&reportFlags.prefix, "prefix", "", "Resource key prefix (totals)")
	f.StringVar(&reportFlags.from, "from", "", "Range start (YYYY-MM-DD daily, YYYY-MM monthly)")
	f.StringVar(&reportFlags.to, "to", "", "Range end (YYYY-MM-DD daily, YYYY-MM monthly)")
	f.IntVar(&reportFlags.days, "days", 0, "Window in days (daily) or idle threshold in days (unused, stale)")
	f.IntVar(&reportFlags.months, "months", 0, "Window in months (monthly)")
	f.IntVar(&reportFlags.limit, "limit", 50, "Maximum rows (totals, 0 for all)")

	reportCmd.AddCommand(reportTotalsCmd)
	reportCmd.AddCommand(reportDailyCmd)
	reportCmd.AddCommand(reportMonthlyCmd)
	reportCmd.AddCommand(reportUnusedCmd)
	reportCmd.AddCommand(reportStaleCmd)
	reportCmd.AddCommand(reportOrphansCmd)
}
