package main

import (
	"context"
	"errors"
	"fmt"

	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/spf13/cobra"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Roll up completed months",
}

var aggregateFlags struct {
	tenants           []int64
	since             string
	until             string
	dailyRetention    int
	monthlyRetention  int
	prune             bool
	noPrune           bool
	allowUnaggregated bool
	dryRun            bool
}

var aggregateMonthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Aggregate daily rows into monthly rows and apply retention",
	Long: `Aggregate daily rows of completed months into monthly rows, then prune
daily and monthly rows past retention.

Months already aggregated are skipped. --until is clamped to the previous month.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := aggregateOptions(cmd)
		if err != nil {
			return err
		}

		var svc usagedomain.Service
		return runOneShot(cmd, func(ctx context.Context) error {
			res := svc.Aggregate(ctx, opts)
			printAggregate(cmd, res)
			if !res.Success {
				if res.Err != nil {
					return res.Err
				}
				return errors.New(res.Message)
			}
			return nil
		}, &svc)
	},
}

func aggregateOptions(cmd *cobra.Command) (usagedomain.AggregateOptions, error) {
	f := aggregateFlags
	opts := usagedomain.AggregateOptions{
		TenantIDs: f.tenants,
		DryRun:    f.dryRun,
	}
	if tenantFlag > 0 && len(opts.TenantIDs) == 0 {
		opts.TenantIDs = []int64{tenantFlag}
	}

	var err error
	if opts.SinceMonth, err = usagedomain.ParseMonthPtr(f.since); err != nil {
		return opts, fmt.Errorf("--since %q: %w", f.since, err)
	}
	if opts.UntilMonth, err = usagedomain.ParseMonthPtr(f.until); err != nil {
		return opts, fmt.Errorf("--until %q: %w", f.until, err)
	}

	flags := cmd.Flags()
	if flags.Changed("daily-retention") {
		if f.dailyRetention < 0 {
			return opts, errors.New("--daily-retention must not be negative")
		}
		opts.DailyRetentionDays = &f.dailyRetention
	}
	if flags.Changed("monthly-retention") {
		if f.monthlyRetention < 0 {
			return opts, errors.New("--monthly-retention must not be negative")
		}
		opts.MonthlyRetentionMonths = &f.monthlyRetention
	}
	if f.prune && f.noPrune {
		return opts, errors.New("--prune and --no-prune are mutually exclusive")
	}
	if flags.Changed("prune") || flags.Changed("no-prune") {
		prune := f.prune && !f.noPrune
		opts.Prune = &prune
	}
	if flags.Changed("allow-unaggregated-prune") {
		opts.AllowUnaggregatedDailyPrune = &f.allowUnaggregated
	}
	return opts, nil
}

func printAggregate(cmd *cobra.Command, res usagedomain.AggregateResult) {
	out := cmd.OutOrStdout()
	if res.DryRun {
		fmt.Fprintln(out, "dry run, nothing written")
	}
	if len(res.Months) > 0 {
		tw := newTable(out, "TENANT", "MONTH", "RESOURCES", "HITS")
		for _, m := range res.Months {
			row(tw, m.TenantID, m.Month, count(int64(m.Resources)), count(m.Hits))
		}
		_ = tw.Flush()
	}
	fmt.Fprintf(out, "months: %d  resources: %s  hits: %s\n",
		res.MonthsProcessed, count(int64(res.ResourcesAggregated)), count(res.TotalHitsRolled))
	fmt.Fprintf(out, "pruned daily: %s  monthly: %s\n",
		count(res.DailyRowsPruned), count(res.MonthlyRowsPruned))
	if res.PruneError != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "prune error: %s\n", res.PruneError)
	}
	if res.Message != "" {
		fmt.Fprintln(out, res.Message)
	}
}

func init() {
	f := aggregateMonthlyCmd.Flags()
	f.Int64SliceVar(&aggregateFlags.tenants, "tenants", nil, "Limit to these tenant ids")
	f.StringVar(&aggregateFlags.since, "since", "", "First month to aggregate (YYYY-MM)")
	f.StringVar(&aggregateFlags.until, "until", "", "Last month to aggregate (YYYY-MM)")
	f.IntVar(&aggregateFlags.dailyRetention, "daily-retention", 0, "Days of daily rows to keep (0 drops the months aggregated in this run)")
	f.IntVar(&aggregateFlags.monthlyRetention, "monthly-retention", 0, "Months of monthly rows to keep (0 disables)")
	f.BoolVar(&aggregateFlags.prune, "prune", false, "Force retention pruning on")
	f.BoolVar(&aggregateFlags.noPrune, "no-prune", false, "Skip retention pruning")
	f.BoolVar(&aggregateFlags.allowUnaggregated, "allow-unaggregated-prune", false, "Allow pruning daily rows of months not yet aggregated")
	f.BoolVar(&aggregateFlags.dryRun, "dry-run", false, "Report what would be aggregated without writing")

	aggregateCmd.AddCommand(aggregateMonthlyCmd)
}
