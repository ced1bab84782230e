package main

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func NewDevicesCommand() *cobra.Command {
	all := false

	cmd := &cobra.Command{
		Use:     "devices",
		GroupID: gBasic,
		Short:   "List attached game controls",
		Long:    `List HID devices the daemon can calibrate. By default only interfaces that look like wheels, pedals or other game controls are shown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := apiClient.GetDevices(all)
			if err != nil {
				return err
			}

			if len(infos) == 0 {
				cmd.Println("No game controls found. Is your wheel or pedal set plugged in?")
				return nil
			}

			for _, info := range infos {
				name := info.Product
				if name == "" {
					name = "(unnamed device)"
				}
				cmd.Println(bold("%s", name))
				if info.Manufacturer != "" {
					cmd.Printf("  Manufacturer: %s\n", info.Manufacturer)
				}
				cmd.Printf("  IDs: %s\n", bold("%04x:%04x", info.VendorID, info.ProductID))
				cmd.Printf("  Path: %s\n", info.Path)
				cmd.Printf("  Usage: page 0x%02x usage 0x%02x\n", info.UsagePage, info.Usage)

				if p, err := apiClient.GetPreset(info.VendorID, info.ProductID); err == nil {
					axes := make([]string, 0, len(p.Axes))
					for _, ap := range p.Axes {
						axes = append(axes, ap.Axis)
					}
					sort.Strings(axes)
					cmd.Printf("  Preset: %s (%s)\n", p.Name, strings.Join(axes, ", "))
				}
				cmd.Println()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "list every HID interface, not just game controls")
	return cmd
}
