package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewHistoryCommand() *cobra.Command {
	limit := 20

	cmd := &cobra.Command{
		Use:     "history",
		GroupID: gAdvanced,
		Short:   "Show recorded calibration results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := apiClient.GetHistory(limit)
			if err != nil {
				return err
			}

			if len(recs) == 0 {
				cmd.Println("No calibrations recorded yet.")
				return nil
			}

			for _, r := range recs {
				when := r.CreatedAt.Local().Format(time.DateTime)
				fmt.Printf("%s  %s %04x:%04x %s: byte %d, %d-bit",
					color.New(color.Faint).Sprint(when),
					bold("#%d", r.ID), r.VendorID, r.ProductID, bold("%s", r.Axis),
					r.Offset, r.Width)
				if r.Axis == "steering" && (r.Center != 0 || r.HalfRange != 0) {
					fmt.Printf(", center %d, half-range %d", r.Center, r.HalfRange)
				} else {
					fmt.Printf(", score %.1f", r.Score)
				}
				if r.LowConfidence {
					fmt.Printf(" %s", color.YellowString("(low confidence)"))
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	return cmd
}
