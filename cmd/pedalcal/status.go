package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tolgayilmaz86/pedalcal/pkg/daemon"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of pedalcal",
		Long:    `Get the calibration engine status, results from this daemon run, and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetCalibrationStatus()
			if err != nil {
				return err
			}

			printEngineStatus(st)

			conf, err := apiClient.GetConfig()
			if err != nil {
				return err
			}

			cmd.Println()
			cmd.Println(bold("Configuration:"))
			if conf.PollIntervalMs != nil {
				cmd.Printf("  Poll interval: %s\n", bold("%d ms", *conf.PollIntervalMs))
			}
			if conf.BaselineDurationMs != nil && conf.ActiveDurationMs != nil {
				cmd.Printf("  Sampling windows: %s baseline, %s active\n",
					bold("%d ms", *conf.BaselineDurationMs), bold("%d ms", *conf.ActiveDurationMs))
			}
			if conf.ConfidenceThreshold != nil {
				cmd.Printf("  Confidence threshold: %s\n", bold("%.1f", *conf.ConfidenceThreshold))
			}
			if conf.DriftCheckCron != nil && *conf.DriftCheckCron != "" {
				cmd.Printf("  Drift check schedule: %s", bold("%s", *conf.DriftCheckCron))
				if conf.DriftToleranceRaw != nil {
					cmd.Printf(" (tolerance %s raw units)", bold("%d", *conf.DriftToleranceRaw))
				}
				cmd.Println()
			} else {
				cmd.Println("  Drift check schedule: " + color.New(color.Faint).Sprint("disabled"))
			}
			return nil
		},
	}
}

func printEngineStatus(st *daemon.Status) {
	fmt.Println(bold("Engine:"))
	if st.Running {
		fmt.Printf("  Phase: %s\n", bold("%s", st.Phase))
		if st.Axis != "" {
			fmt.Printf("  Axis: %s\n", bold("%s", st.Axis))
		}
		if st.Device != "" {
			fmt.Printf("  Device: %s\n", st.Device)
		}
		fmt.Printf("  Samples: %s\n", bold("%d", st.Samples))
	} else {
		fmt.Println("  Idle.")
	}
	if st.DriftCheckAt != nil {
		fmt.Printf("  Next drift check: %s\n", bold("%s", st.DriftCheckAt.Local().Format("Jan _2 15:04")))
	}

	if len(st.Results) == 0 {
		return
	}

	fmt.Println()
	fmt.Println(bold("Results this run:"))
	axes := make([]string, 0, len(st.Results))
	for axis := range st.Results {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	for _, axis := range axes {
		cal := st.Results[axis]
		mark := color.New(color.Bold, color.FgGreen).Sprint("✔")
		if cal.LowConfidence {
			mark = color.New(color.Bold, color.FgYellow).Sprint("~")
		}
		if cal.Center != 0 || cal.HalfRange != 0 {
			fmt.Printf("  %s %s: byte %d, %d-bit, center %d, half-range %d",
				mark, axis, cal.Offset, cal.Width.Bits(), cal.Center, cal.HalfRange)
		} else {
			fmt.Printf("  %s %s: byte %d, %d-bit, score %.1f",
				mark, axis, cal.Offset, cal.Width.Bits(), cal.Score)
		}
		if cal.LowConfidence {
			fmt.Printf(" %s", color.YellowString("(low confidence, consider redoing)"))
		}
		fmt.Println()
	}
}
