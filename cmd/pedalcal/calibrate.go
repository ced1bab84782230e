package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tolgayilmaz86/pedalcal/pkg/daemon"
)

// deviceFlags are the shared device-selection flags for commands that start
// a calibration.
type deviceFlags struct {
	path string
	vid  string
	pid  string
}

func (d *deviceFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&d.path, "device", "", "platform path of the device (see 'pedalcal devices')")
	f.StringVar(&d.vid, "vid", "", "vendor ID in hex, e.g. 046d")
	f.StringVar(&d.pid, "pid", "", "product ID in hex, e.g. c262")
}

func (d *deviceFlags) resolve() (string, uint16, uint16, error) {
	if d.path != "" {
		return d.path, 0, 0, nil
	}
	if d.vid == "" || d.pid == "" {
		return "", 0, 0, fmt.Errorf("select a device with --device, or --vid and --pid")
	}
	vid, err := strconv.ParseUint(d.vid, 16, 16)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid vendor ID %q: %v", d.vid, err)
	}
	pid, err := strconv.ParseUint(d.pid, 16, 16)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid product ID %q: %v", d.pid, err)
	}
	return "", uint16(vid), uint16(pid), nil
}

func NewCalibrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"cal"},
		Short:   "Calibrate an axis by finding where it lives in the report",
		Long: `Calibrate an axis. The daemon samples the device while the control rests,
then while you exercise it, and finds the report byte whose variance grew the
most. Follow the prompts printed by 'pedalcal events' or watch
'pedalcal status' while it runs.`,
		GroupID: gBasic,
	}

	dev := &deviceFlags{}
	startCmd := &cobra.Command{
		Use:       "start <axis>",
		Short:     "Start calibrating an axis (throttle, brake, clutch or steering)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"throttle", "brake", "clutch", "steering"},
		RunE: func(_ *cobra.Command, args []string) error {
			path, vid, pid, err := dev.resolve()
			if err != nil {
				return err
			}
			_, err = apiClient.StartCalibration(daemon.StartRequest{
				Path:      path,
				VendorID:  vid,
				ProductID: pid,
				Axis:      args[0],
			})
			if err != nil {
				return fmt.Errorf("failed to start calibration: %w", err)
			}
			fmt.Printf("Calibration of %s started. Leave the control at rest until prompted.\n", args[0])
			fmt.Println("Run 'pedalcal events' to follow progress, or 'pedalcal status' for a snapshot.")
			return nil
		},
	}
	dev.register(startCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the in-progress calibration",
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := apiClient.CancelCalibration()
			if err != nil {
				return fmt.Errorf("failed to cancel calibration: %w", err)
			}
			fmt.Println("Calibration canceled.")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current calibration status",
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := apiClient.GetCalibrationStatus()
			if err != nil {
				return fmt.Errorf("failed to fetch calibration status: %w", err)
			}
			printEngineStatus(st)
			return nil
		},
	}

	cmd.AddCommand(startCmd, cancelCmd, statusCmd)
	return cmd
}

func NewSteeringRangeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "steering-range",
		Aliases: []string{"range"},
		Short:   "Calibrate steering center and range",
		Long: `Calibrate the steering center and half-range with three guided captures:
center the wheel, turn fully left, turn fully right. Each position is
captured after you confirm it with 'pedalcal steering-range confirm'.`,
		GroupID: gBasic,
	}

	dev := &deviceFlags{}
	offset := -1
	width := 0
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the three-position steering range wizard",
		RunE: func(_ *cobra.Command, _ []string) error {
			path, vid, pid, err := dev.resolve()
			if err != nil {
				return err
			}
			_, err = apiClient.StartSteeringRange(daemon.RangeRequest{
				Path:      path,
				VendorID:  vid,
				ProductID: pid,
				Offset:    offset,
				Width:     width,
			})
			if err != nil {
				return fmt.Errorf("failed to start steering range calibration: %w", err)
			}
			fmt.Println("Steering range calibration started.")
			fmt.Println("Center the wheel, then run 'pedalcal steering-range confirm'.")
			return nil
		},
	}
	dev.register(startCmd)
	startCmd.Flags().IntVar(&offset, "offset", -1, "byte offset of the steering value (default: from preset or history, else detected)")
	startCmd.Flags().IntVar(&width, "width", 0, "bit width of the steering value (8, 16 or 32)")

	confirmCmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm the wheel is in the prompted position",
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := apiClient.ConfirmSteeringRange()
			if err != nil {
				return fmt.Errorf("failed to confirm: %w", err)
			}
			st, err := apiClient.GetCalibrationStatus()
			if err != nil {
				fmt.Println("Confirmed.")
				return nil
			}
			fmt.Printf("Confirmed. Phase: %s\n", st.Phase)
			return nil
		},
	}

	cmd.AddCommand(startCmd, confirmCmd)
	return cmd
}
