package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewDriftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drift",
		GroupID: gAdvanced,
		Short:   "Check whether calibrated steering centers have drifted",
		Long: `Compare the resting steering value of each calibrated device against its
recorded center. Drift beyond the configured tolerance suggests the wheel
needs a fresh range calibration.`,
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run a drift check now",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := apiClient.RunDriftCheck(); err != nil {
				return fmt.Errorf("drift check failed: %w", err)
			}
			fmt.Println("Drift check complete. Warnings, if any, are logged by the daemon and published on 'pedalcal events'.")
			return nil
		},
	}

	scheduleCmd := &cobra.Command{
		Use:   "schedule <cron>",
		Short: "Schedule periodic drift checks (empty expression disables)",
		Long: `Schedule periodic drift checks with a cron expression, e.g. '@daily' or
'0 9 * * 1'. Pass an empty string to disable the schedule.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			msg, err := apiClient.SetDriftCron(args[0])
			if err != nil {
				return fmt.Errorf("failed to schedule drift checks: %w", err)
			}
			if args[0] == "" {
				fmt.Println("Drift check schedule disabled.")
				return nil
			}
			fmt.Printf("Drift checks scheduled. Next runs: %s\n", msg)
			return nil
		},
	}

	toleranceCmd := &cobra.Command{
		Use:   "tolerance <raw-units>",
		Short: "Set how far the resting value may wander before warning",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tol, err := parseIntArg(args, "tolerance")
			if err != nil {
				return err
			}
			msg, err := apiClient.SetDriftTolerance(tol)
			if err != nil {
				return fmt.Errorf("failed to set drift tolerance: %w", err)
			}
			fmt.Println(msg)
			return nil
		},
	}

	postponeCmd := &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled drift check",
		Long: `Postpone the next scheduled drift check by a given duration, e.g. 90m or
2h. Defaults to 1 hour.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			d := time.Hour
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			next, err := apiClient.PostponeDriftCheck(d)
			if err != nil {
				return fmt.Errorf("failed to postpone drift check: %w", err)
			}
			fmt.Printf("Next drift check postponed to %s.\n", next.Local().Format(time.DateTime))
			return nil
		},
	}

	skipCmd := &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled drift check",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			next, err := apiClient.SkipDriftCheck()
			if err != nil {
				return fmt.Errorf("failed to skip drift check: %w", err)
			}
			fmt.Printf("Next drift check skipped; following run at %s.\n", next.Local().Format(time.DateTime))
			return nil
		},
	}

	cmd.AddCommand(checkCmd, scheduleCmd, toleranceCmd, postponeCmd, skipCmd)
	return cmd
}
