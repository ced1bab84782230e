package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func NewMonitorCommand() *cobra.Command {
	offset := 0
	width := 8

	cmd := &cobra.Command{
		Use:     "monitor <device-path>",
		GroupID: gAdvanced,
		Short:   "Watch decoded axis values live",
		Long: `Stream decoded values from a device in real time, e.g. to verify a
calibration by moving the control and watching the numbers. Offset and
width come from 'pedalcal status' or 'pedalcal history'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dialer := websocket.Dialer{
				NetDialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
					return net.Dial("unix", unixSocketPath)
				},
			}

			q := url.Values{}
			q.Set("path", args[0])
			q.Set("offset", strconv.Itoa(offset))
			q.Set("width", strconv.Itoa(width))
			conn, _, err := dialer.Dial("ws://unix/monitor?"+q.Encode(), nil)
			if err != nil {
				return fmt.Errorf("failed to connect to monitor stream: %w", err)
			}
			defer func() { _ = conn.Close() }()

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigc
				_ = conn.Close()
			}()

			fmt.Printf("Streaming byte %d (%d-bit) from %s. Ctrl-C to stop.\n", offset, width, args[0])

			var frame struct {
				Value int64 `json:"value"`
				Ts    int64 `json:"ts"`
			}
			for {
				if err := conn.ReadJSON(&frame); err != nil {
					return nil
				}
				fmt.Printf("\r%-12d", frame.Value)
			}
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "byte offset of the value to decode")
	cmd.Flags().IntVar(&width, "width", 8, "bit width of the value (8, 16 or 32)")
	return cmd
}
