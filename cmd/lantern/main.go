package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var tenantFlag int64

var rootCmd = &cobra.Command{
	Use:   "lantern",
	Short: "Resource usage tracking pipeline",
	Long: `Lantern counts resource accesses, persists them as lifetime totals and
daily rows, rolls completed months into monthly rows and prunes old data.

Configuration is read from the environment (and .env when present).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Int64Var(&tenantFlag, "tenant", 0, "Tenant id (default: DEFAULT_TENANT)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(resetTrackingCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
