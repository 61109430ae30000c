package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"m4led/core"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"
)

func newPlanCmd(load profileLoader) *cobra.Command {
	var (
		hseMHz, sysclkMHz uint32
		fault             string
		maxPolls          int
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Derive the clock plan and run the bring-up on the simulator",
		Long: "Derive PLL, bus divider and flash settings for the profile, print every derived frequency, " +
			"then run the bring-up sequence on a simulated STM32F407 and print the states it passed and the registers it left.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := load()
			if err != nil {
				return err
			}
			if hseMHz != 0 {
				p.HSEMHz = hseMHz
			}
			if sysclkMHz != 0 {
				p.SysclkMHz = sysclkMHz
			}
			out := cmd.OutOrStdout()

			plan, err := p.ClockPlan()
			if err != nil {
				return err
			}
			printPlan(out, plan)
			printPattern(out, p.PWMConfig(), p.Tick(), len(p.Pattern.Values), plan.TimerClock1())

			opts, err := faultOptions(fault)
			if err != nil {
				return err
			}
			s, err := newSession(p, opts, maxPolls)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nbring-up: %s\n", joinStates(s.states))
			s.registers(out)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&hseMHz, "hse", 0, "crystal frequency in MHz (overrides the profile)")
	cmd.Flags().Uint32Var(&sysclkMHz, "sysclk", 0, "target core clock in MHz (overrides the profile)")
	cmd.Flags().StringVar(&fault, "fault", "", "inject a simulator fault: hse or pll")
	cmd.Flags().IntVar(&maxPolls, "max-polls", 10000, "give up a hardware wait after this many polls")
	return cmd
}

func printPlan(w io.Writer, p core.ClockPlan) {
	fmt.Fprintf(w, "PLL          M=%d N=%d P=%d Q=%d\n", p.PLLM, p.PLLN, p.PLLP, p.PLLQ)
	fmt.Fprintf(w, "dividers     AHB/%d APB1/%d APB2/%d\n", p.AHBDiv, p.APB1Div, p.APB2Div)
	fmt.Fprintf(w, "flash        %d wait states\n", p.WaitStates)
	rows := []struct {
		name string
		f    physic.Frequency
	}{
		{"HSE", p.HSE},
		{"VCO input", p.VCOInput()},
		{"VCO", p.VCO()},
		{"SYSCLK", p.SYSCLK()},
		{"HCLK", p.HCLK()},
		{"PCLK1", p.PCLK1()},
		{"PCLK2", p.PCLK2()},
		{"APB1 timers", p.TimerClock1()},
		{"PLL48", p.PLL48()},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-12s %s\n", r.name, r.f)
	}
	fmt.Fprintf(w, "%-12s HSE/%d\n", "RTC", p.RTCPrescaler())
}

func printPattern(w io.Writer, pwm core.PWMConfig, tick core.TickConfig, length int, timerClock physic.Frequency) {
	fmt.Fprintf(w, "%-12s %s (PSC=%d ARR=%d)\n", "PWM carrier", pwm.CarrierFrequency(timerClock), pwm.Prescaler, pwm.Period)
	step, err := tick.StepPeriod(length)
	if err != nil {
		fmt.Fprintf(w, "%-12s %v\n", "pattern", err)
		return
	}
	counter := timerClock / physic.Frequency(uint32(tick.Prescaler)+1)
	if counter < physic.Hertz {
		return
	}
	cycle := time.Duration(uint64(step+1) * uint64(length) * uint64(time.Second) / uint64(counter/physic.Hertz))
	fmt.Fprintf(w, "%-12s %d entries, step ARR=%d, cycle %s\n", "pattern", length, step, cycle)
}

func joinStates(states []core.ClockState) string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	return strings.Join(names, " -> ")
}
