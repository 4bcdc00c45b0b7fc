package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pinlink/config"
	"pinlink/discovery"
	"pinlink/serial"
)

func newEchoCmd(a *app) *cobra.Command {
	var (
		count    int
		timeout  time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "echo <text>",
		Short: "Send raw lines and print what comes back",
		Long: `Send a line over the serial link without the handshake and print the
reply line. Useful for checking wiring: with TX and RX jumpered every
line comes straight back.

With --count greater than 1 each line is numbered (text-1, text-2, ...).`,
		Example: `  pinlink echo 99 --port /dev/ttyACM0
  pinlink echo PING --count 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if err := config.Validate(a.cfg); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			port, err := a.resolvePort()
			if err != nil {
				return err
			}

			tr := serial.NewTransport(port,
				serial.WithOpener(a.opener),
				serial.WithConfig(a.cfg.Device.Serial()),
				serial.WithBufferSize(a.cfg.Device.BufferSize),
				serial.WithLogger(a.logger),
			)
			if err := tr.Open(); err != nil {
				return err
			}
			defer tr.Close()

			fmt.Fprintf(out, "%s Echo on %s at %d baud\n", infoStyle.Render("⚡"), port, a.cfg.Device.BaudRate)

			matched := 0
			for i := 1; i <= count; i++ {
				msg := args[0]
				if count > 1 {
					msg = fmt.Sprintf("%s-%d", args[0], i)
				}

				if err := tr.WriteLine(msg); err != nil {
					return err
				}
				fmt.Fprintf(out, "  → %s\n", msg)

				reply, err := readLineWithin(cmd.Context(), tr, timeout)
				switch {
				case err == nil && reply == msg:
					matched++
					fmt.Fprintf(out, "  %s %s\n", successStyle.Render("✓"), reply)
				case err == nil:
					fmt.Fprintf(out, "  ← %s\n", reply)
				case errors.Is(err, context.DeadlineExceeded) && cmd.Context().Err() == nil:
					fmt.Fprintf(out, "  %s no reply within %v\n", errorStyle.Render("✗"), timeout)
				default:
					return err
				}

				if i < count {
					time.Sleep(interval)
				}
			}

			stats := tr.Stats()
			fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d/%d echoed, %d bytes sent, %d received",
				matched, count, stats.BytesSent, stats.BytesReceived)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of lines to send")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 2*time.Second, "How long to wait for each reply")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 100*time.Millisecond, "Pause between lines")
	return cmd
}

func readLineWithin(ctx context.Context, tr *serial.Transport, d time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return tr.ReadLineContext(ctx)
}

// resolvePort returns the configured port or the locator's guess
func (a *app) resolvePort() (string, error) {
	if a.cfg.Device.Port != "" {
		return a.cfg.Device.Port, nil
	}
	locator, err := a.locator()
	if err != nil {
		return "", err
	}
	return discovery.Guess(locator)
}
