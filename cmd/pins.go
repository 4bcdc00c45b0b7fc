package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pinlink/device"
)

func newDigitalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digital",
		Short: "Read or write a digital pin",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "read <pin>",
		Short:   "Print 1 if the pin is high, 0 if low",
		Example: "  pinlink digital read 7",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := parsePin(args[0])
			if err != nil {
				return err
			}
			return a.connected(cmd.Context(), func(ctrl *device.Controller) error {
				high, err := ctrl.DigitalReadContext(cmd.Context(), pin)
				if err != nil {
					return err
				}
				if high {
					fmt.Fprintln(cmd.OutOrStdout(), 1)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), 0)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "write <pin> <0|1|low|high>",
		Short:   "Drive a digital pin low or high",
		Example: "  pinlink digital write 13 high",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := parsePin(args[0])
			if err != nil {
				return err
			}
			value, err := parseLevel(args[1])
			if err != nil {
				return err
			}
			return a.connected(cmd.Context(), func(ctrl *device.Controller) error {
				return ctrl.DigitalWrite(pin, value)
			})
		},
	})

	return cmd
}

func newAnalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analog",
		Short: "Read an analog input or write a PWM output",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "read <pin>",
		Short:   "Print the converter reading of an analog pin",
		Example: "  pinlink analog read 0",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := parsePin(args[0])
			if err != nil {
				return err
			}
			return a.connected(cmd.Context(), func(ctrl *device.Controller) error {
				v, err := ctrl.AnalogReadContext(cmd.Context(), pin)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "write <pin> <value>",
		Short:   "Set the PWM duty of a pin",
		Example: "  pinlink analog write 9 128",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := parsePin(args[0])
			if err != nil {
				return err
			}
			value, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid value %q: must be an integer", args[1])
			}
			return a.connected(cmd.Context(), func(ctrl *device.Controller) error {
				return ctrl.AnalogWrite(pin, value)
			})
		},
	})

	return cmd
}

func newModeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "mode <pin> <input|output>",
		Short:   "Configure a pin as input or output",
		Example: "  pinlink mode 13 output",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := parsePin(args[0])
			if err != nil {
				return err
			}
			mode, err := device.ParsePinMode(args[1])
			if err != nil {
				return err
			}
			return a.connected(cmd.Context(), func(ctrl *device.Controller) error {
				return ctrl.SetPinMode(pin, mode)
			})
		},
	}
}

func parsePin(s string) (int, error) {
	pin, err := strconv.Atoi(s)
	if err != nil || pin < 0 {
		return 0, fmt.Errorf("invalid pin %q: must be a non-negative integer", s)
	}
	return pin, nil
}

func parseLevel(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "high", "on", "true":
		return true, nil
	case "0", "low", "off", "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid level %q: use 0, 1, low or high", s)
	}
}
