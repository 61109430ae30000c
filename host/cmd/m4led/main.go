// Command m4led plans, simulates and monitors the discovery board LED
// firmware.
package main

import (
	"log"
	"os"

	"m4led/core"
	"m4led/host/config"

	"github.com/spf13/cobra"
)

// logWriter is the firmware debug sink selected by --verbose.
var logWriter core.DebugWriter = func(string) {}

type profileLoader func() (*config.Profile, error)

func newRootCmd() *cobra.Command {
	var (
		profilePath string
		verbose     bool
	)

	root := &cobra.Command{
		Use:          "m4led",
		Short:        "STM32F4-discovery LED breathing firmware tools",
		Long:         "Derive clock plans, run the firmware against a simulated STM32F407 and read the board's log UART.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logWriter = func(s string) { log.Println(s) }
			} else {
				logWriter = func(string) {}
			}
			core.SetDebugWriter(logWriter)
			core.SetDebugEnabled(verbose)
		},
	}
	root.PersistentFlags().StringVarP(&profilePath, "profile", "p", "", "board profile (YAML); discovery defaults when empty")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print firmware debug lines to stderr")

	load := func() (*config.Profile, error) {
		if profilePath == "" {
			return config.Default(), nil
		}
		return config.LoadFile(profilePath)
	}

	root.AddCommand(
		newPlanCmd(load),
		newSimulateCmd(load),
		newShellCmd(load),
		newMonitorCmd(load),
	)
	return root
}

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
