package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tolgayilmaz86/pedalcal/pkg/events"
)

func NewEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		GroupID: gAdvanced,
		Short:   "Follow daemon events",
		Long: `Subscribe to the daemon's event stream and print events as they
arrive: calibration phase changes, progress, results and drift warnings.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigc
				cancel()
			}()

			// client.Client buffers whole responses, so the event stream
			// uses its own http.Client over the same socket.
			httpc := &http.Client{
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
						var d net.Dialer
						return d.DialContext(ctx, "unix", unixSocketPath)
					},
				},
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/events", nil)
			if err != nil {
				return err
			}
			resp, err := httpc.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to event stream: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("event stream returned %s", resp.Status)
			}

			fmt.Println("Listening for events. Ctrl-C to stop.")

			var name string
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				switch {
				case strings.HasPrefix(line, "event:"):
					name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				case strings.HasPrefix(line, "data:"):
					data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
					ev := events.Event{Name: name, Data: json.RawMessage(data)}
					fmt.Printf("%s %s\n", bold("%-20s", name), formatEvent(ev))
				}
			}
			if err := scanner.Err(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

// formatEvent renders a known event payload as a one-line summary, falling
// back to the raw JSON for unknown names or undecodable payloads.
func formatEvent(ev events.Event) string {
	switch ev.Name {
	case events.CalibrationPhase:
		p, err := events.DecodeAs[events.CalibrationPhaseEvent](ev)
		if err != nil {
			break
		}
		s := p.Phase
		if p.Axis != "" {
			s = fmt.Sprintf("%s axis=%s", s, p.Axis)
		}
		if p.Message != "" {
			s = fmt.Sprintf("%s (%s)", s, p.Message)
		}
		return s
	case events.CalibrationProgress:
		p, err := events.DecodeAs[events.CalibrationProgressEvent](ev)
		if err != nil {
			break
		}
		if p.Axis != "" {
			return fmt.Sprintf("axis=%s samples=%d", p.Axis, p.Samples)
		}
		return fmt.Sprintf("samples=%d", p.Samples)
	case events.CalibrationResult:
		p, err := events.DecodeAs[events.CalibrationResultEvent](ev)
		if err != nil {
			break
		}
		if p.Error != "" {
			return fmt.Sprintf("failed: %s", p.Error)
		}
		s := fmt.Sprintf("offset=%d width=%d score=%.2f", p.Offset, p.Width, p.Score)
		if p.Axis != "" {
			s = fmt.Sprintf("axis=%s %s", p.Axis, s)
		}
		if p.LowConfidence {
			s += " (low confidence)"
		}
		return s
	case events.CalibrationStatus:
		p, err := events.DecodeAs[events.CalibrationStatusEvent](ev)
		if err != nil {
			break
		}
		return p.Message
	case events.DriftWarning:
		p, err := events.DecodeAs[events.DriftWarningEvent](ev)
		if err != nil {
			break
		}
		return fmt.Sprintf("%s: %s (expected %d, observed %d) at %s",
			p.Device, p.Message, p.Expected, p.Observed,
			time.Unix(p.Ts, 0).Local().Format(time.DateTime))
	}
	return string(ev.Data)
}
