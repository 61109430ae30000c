package main

import (
	"bytes"
	"strings"
	"testing"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func expectContains(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("Output missing %q:\n%s", w, out)
		}
	}
}

func TestPlanCommand(t *testing.T) {
	out, err := execute(t, "", "plan")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	expectContains(t, out,
		"M=4 N=168 P=2 Q=7",
		"AHB/1 APB1/4 APB2/2",
		"5 wait states",
		"HsiSelected -> HseEnabled -> HseStable -> PllConfigured -> PllEnabled -> PllLocked -> SysclkOnPll -> Stable",
		"0x27402A04",
		"0x0008940A",
		"16 entries, step ARR=625",
	)
}

func TestPlanCommandFault(t *testing.T) {
	_, err := execute(t, "", "plan", "--fault", "hse", "--max-polls", "50")
	if err == nil {
		t.Fatal("Expected a stuck bring-up")
	}
	if !strings.Contains(err.Error(), "HseEnabled") || !strings.Contains(err.Error(), "50 polls") {
		t.Errorf("Expected the stop state in the error, got %v", err)
	}

	if _, err := execute(t, "", "plan", "--sysclk", "200"); err == nil {
		t.Error("Expected 200 MHz to be rejected")
	}
}

func TestSimulateCommand(t *testing.T) {
	variants := []struct {
		name string
		want string
	}{
		{"dma", "dma stream 7:"},
		{"irq", "re-entries 0"},
		{"blink", "blink: "},
	}
	for _, v := range variants {
		out, err := execute(t, "", "simulate", "--variant", v.name, "--duration", "250ms", "--interval", "125ms")
		if err != nil {
			t.Errorf("%s: simulate failed: %v", v.name, err)
			continue
		}
		expectContains(t, out, "green", v.want)
		if rows := strings.Count(out, "\n"); rows < 5 {
			t.Errorf("%s: expected a sample per interval, got:\n%s", v.name, out)
		}
	}

	if _, err := execute(t, "", "simulate", "--variant", "strobe"); err == nil {
		t.Error("Expected an unknown variant to fail")
	}
}

func TestShellCommand(t *testing.T) {
	script := strings.Join([]string{
		"button on",
		"arm irq",
		"run 100ms",
		"status",
		"arm dma",
		"bogus",
		"trace",
		"quit",
		"status",
	}, "\n")
	out, err := execute(t, script, "shell")
	if err != nil {
		t.Fatalf("shell failed: %v", err)
	}
	expectContains(t, out,
		"board up: HsiSelected",
		"PD12=true PD13=true PD14=true PD15=true",
		"armed irq",
		"irq: 2 updates",
		"error: pattern already armed",
		`error: unknown command "bogus"`,
		"[TRACE] === Trace Ring Dump ===",
	)
	// nothing after quit runs
	if strings.Count(out, "irq: ") != 1 {
		t.Errorf("Commands ran after quit:\n%s", out)
	}
}
