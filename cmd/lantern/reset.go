package main

import (
	"context"
	"errors"
	"fmt"

	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/spf13/cobra"
)

var resetConfirm bool

var resetTrackingCmd = &cobra.Command{
	Use:   "reset-tracking",
	Short: "Delete all persisted usage and restart tracking",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !resetConfirm {
			return errors.New("refusing to reset without --yes")
		}
		var svc usagedomain.Service
		return runOneShot(cmd, func(ctx context.Context) error {
			removed, err := svc.ResetTracking(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s rows\n", count(removed))
			return nil
		}, &svc)
	},
}

func init() {
	resetTrackingCmd.Flags().BoolVar(&resetConfirm, "yes", false, "Confirm the reset")
}
