package main

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"m4led/core"
	"m4led/host/config"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
)

func newShellCmd(load profileLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive simulator session",
		Long:  "Boot a simulated board and drive it with commands read from stdin. Type 'help' for the command list.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := load()
			if err != nil {
				return err
			}
			sh := &shell{profile: p, out: cmd.OutOrStdout()}
			if err := sh.reset(); err != nil {
				return err
			}
			return sh.loop(cmd.InOrStdin())
		},
	}
}

// shell is the state of an interactive session.
type shell struct {
	profile *config.Profile
	out     io.Writer
	s       *session
}

func (sh *shell) reset() error {
	opts, err := faultOptions("")
	if err != nil {
		return err
	}
	s, err := newSession(sh.profile, opts, 0)
	if err != nil {
		return err
	}
	sh.s = s
	fmt.Fprintf(sh.out, "board up: %s\n", joinStates(s.states))
	return nil
}

func (sh *shell) loop(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(sh.out, "m4led> ")
		if !scanner.Scan() {
			fmt.Fprintln(sh.out)
			return scanner.Err()
		}
		quit, err := sh.exec(scanner.Text())
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// exec runs one command line. It reports whether the shell should exit.
func (sh *shell) exec(line string) (bool, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "quit", "exit", "q":
		return true, nil

	case "help", "?":
		sh.help()

	case "arm":
		v := sh.profile.Variant
		if len(args) > 1 {
			v = config.Variant(args[1])
		}
		if err := sh.s.arm(v); err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "armed %s\n", v)

	case "run":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: run <duration>")
		}
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return false, err
		}
		if d < 0 {
			return false, fmt.Errorf("negative duration %s", d)
		}
		sh.s.board.Run(d)
		sh.s.sample(sh.out)

	case "sample":
		sampleHeader(sh.out)
		sh.s.sample(sh.out)

	case "status":
		sh.s.status(sh.out)

	case "regs":
		sh.s.registers(sh.out)

	case "trace":
		core.SetDebugWriter(func(s string) { fmt.Fprintln(sh.out, s) })
		core.DumpTrace()
		core.SetDebugWriter(logWriter)

	case "button":
		if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
			return false, fmt.Errorf("usage: button on|off")
		}
		sh.s.board.SetInput(core.BUTTON_USER, args[1] == "on")
		if err := core.MirrorButton(sh.s.board.GPIO); err != nil {
			return false, err
		}
		for _, led := range core.LEDs {
			fmt.Fprintf(sh.out, "%s=%t ", led, sh.s.board.Output(led))
		}
		fmt.Fprintln(sh.out)

	case "reset":
		core.ClearTrace()
		return false, sh.reset()

	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", args[0])
	}
	return false, nil
}

func (sh *shell) help() {
	fmt.Fprintln(sh.out, "commands:")
	fmt.Fprintln(sh.out, "  arm [irq|dma|blink]  start a pattern (profile variant by default)")
	fmt.Fprintln(sh.out, "  run <duration>       advance simulated time, e.g. run 250ms")
	fmt.Fprintln(sh.out, "  sample               print the LED state")
	fmt.Fprintln(sh.out, "  status               print pattern counters")
	fmt.Fprintln(sh.out, "  regs                 dump the programmed registers")
	fmt.Fprintln(sh.out, "  trace                dump the firmware trace ring")
	fmt.Fprintln(sh.out, "  button on|off        press or release the user button and mirror it")
	fmt.Fprintln(sh.out, "  reset                reboot the simulated board")
	fmt.Fprintln(sh.out, "  quit                 leave the shell")
}
