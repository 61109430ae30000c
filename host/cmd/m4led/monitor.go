package main

import (
	"fmt"
	"strings"
	"time"

	"m4led/host/serial"

	"github.com/spf13/cobra"
)

func newMonitorCmd(load profileLoader) *cobra.Command {
	var (
		device string
		baud   int
		until  string
		stamp  bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print the firmware log from the board's debug UART",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := load()
			if err != nil {
				return err
			}
			cfg := serial.DefaultConfig(p.Serial.Device)
			cfg.Baud = p.Serial.Baud
			if device != "" {
				cfg.Device = device
			}
			if baud != 0 {
				cfg.Baud = baud
			}

			port, err := serial.Open(cfg)
			if err != nil {
				return err
			}
			defer port.Close()
			if err := port.Flush(); err != nil {
				return fmt.Errorf("flush %s: %w", cfg.Device, err)
			}

			out := cmd.OutOrStdout()
			start := time.Now()
			err = serial.ReadLines(port, func(line string) bool {
				if stamp {
					fmt.Fprintf(out, "%10.3f %s\n", time.Since(start).Seconds(), line)
				} else {
					fmt.Fprintln(out, line)
				}
				return until == "" || !strings.Contains(line, until)
			})
			if err != nil {
				return fmt.Errorf("read %s: %w", cfg.Device, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", "", "serial device (overrides the profile)")
	cmd.Flags().IntVarP(&baud, "baud", "b", 0, "baud rate (overrides the profile)")
	cmd.Flags().StringVar(&until, "until", "", "exit after a line containing this text")
	cmd.Flags().BoolVarP(&stamp, "timestamps", "t", false, "prefix lines with seconds since start")
	return cmd
}
