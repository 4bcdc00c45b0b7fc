package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pinlink/serial"
)

func newPortsCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and the likely device port",
		Long: `List serial ports and mark the one pinlink would pick when no port
is configured.

On Linux only USB serial adapters (ttyUSB*) and CDC/ACM boards (ttyACM*)
qualify, on macOS usbserial and usbmodem ports, and on Windows the first
COM port that can be opened. --all lists every port the driver reports.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			locator, err := a.locator()
			if err != nil {
				return err
			}

			var ports []string
			if all {
				ports, err = serial.ListPorts()
			} else {
				ports, err = locator.ListPorts()
			}
			if err != nil {
				return fmt.Errorf("failed to list ports: %w", err)
			}

			if len(ports) == 0 {
				fmt.Fprintln(out, warnStyle.Render("No serial ports found"))
				return nil
			}

			guess, ok := locator.GuessPort(ports)

			fmt.Fprintf(out, "%s\n", infoStyle.Render(fmt.Sprintf("Found %d serial port(s):", len(ports))))
			for _, port := range ports {
				if ok && port == guess {
					fmt.Fprintf(out, "  %s %s %s\n", successStyle.Render("●"), port, dimStyle.Render("(device)"))
				} else {
					fmt.Fprintf(out, "  ○ %s\n", port)
				}
			}
			if !ok {
				fmt.Fprintln(out, warnStyle.Render("No port matches the platform's USB serial naming"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "List every port the driver reports")
	return cmd
}
