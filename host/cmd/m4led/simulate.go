package main

import (
	"fmt"
	"time"

	"m4led/host/config"

	"github.com/spf13/cobra"
)

func newSimulateCmd(load profileLoader) *cobra.Command {
	var (
		variant  string
		duration time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the LED pattern on a simulated board",
		Long: "Boot a simulated STM32F407 with the profile, arm the chosen pattern variant and print " +
			"the LED compare values (or on/off levels) at a fixed interval of simulated time.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := load()
			if err != nil {
				return err
			}
			if variant != "" {
				p.Variant = config.Variant(variant)
			}
			if interval <= 0 || duration < interval {
				return fmt.Errorf("interval %s must be positive and within duration %s", interval, duration)
			}
			opts, err := faultOptions("")
			if err != nil {
				return err
			}
			s, err := newSession(p, opts, 0)
			if err != nil {
				return err
			}
			if err := s.arm(p.Variant); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			sampleHeader(out)
			s.sample(out)
			for elapsed := time.Duration(0); elapsed < duration; elapsed += interval {
				s.board.Run(interval)
				s.sample(out)
			}
			fmt.Fprintln(out)
			s.status(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "irq, dma or blink (overrides the profile)")
	cmd.Flags().DurationVar(&duration, "duration", 2*time.Second, "simulated time to run")
	cmd.Flags().DurationVar(&interval, "interval", 62500*time.Microsecond, "simulated time between samples")
	return cmd
}
