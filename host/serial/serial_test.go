package serial

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadLines(t *testing.T) {
	var got []string
	err := ReadLines(strings.NewReader("clock: Stable\r\nbreath: dma armed\npartial"), func(line string) bool {
		got = append(got, line)
		return true
	})
	if err != nil {
		t.Fatalf("ReadLines failed: %v", err)
	}
	want := []string{"clock: Stable", "breath: dma armed", "partial"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d lines, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestReadLinesStops(t *testing.T) {
	n := 0
	ReadLines(strings.NewReader("a\nb\nc\n"), func(line string) bool {
		n++
		return line != "b"
	})
	if n != 2 {
		t.Errorf("Expected to stop after 2 lines, read %d", n)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("unplugged") }

func TestReadLinesError(t *testing.T) {
	if err := ReadLines(failingReader{}, func(string) bool { return true }); err == nil {
		t.Error("Expected the reader error")
	}
}

// quietPort answers like a tty whose read timeout expires before the board
// says anything.
type quietPort struct {
	silent int
	data   *strings.Reader
	polls  int
}

func (q *quietPort) Read(b []byte) (int, error) {
	q.polls++
	if q.silent > 0 {
		q.silent--
		return 0, io.EOF
	}
	if q.data.Len() == 0 {
		return 0, errors.New("unplugged")
	}
	return q.data.Read(b)
}

type timeoutReader struct{ r io.Reader }

func (t timeoutReader) Read(b []byte) (int, error) { return skipTimeouts(t.r, b) }

func TestReadLinesWaitsThroughTimeouts(t *testing.T) {
	port := &quietPort{silent: 3, data: strings.NewReader("[RCC] Stable\n")}
	var got []string
	err := ReadLines(timeoutReader{port}, func(line string) bool {
		got = append(got, line)
		return false
	})
	if err != nil {
		t.Fatalf("ReadLines failed: %v", err)
	}
	if len(got) != 1 || got[0] != "[RCC] Stable" {
		t.Errorf("Expected the line after the silence, got %q", got)
	}
	if port.polls < 4 {
		t.Errorf("Expected 3 timeouts before the data, got %d reads", port.polls)
	}

	port = &quietPort{silent: 2, data: strings.NewReader("")}
	if err := ReadLines(timeoutReader{port}, func(string) bool { return true }); err == nil {
		t.Error("Expected the port error after the timeouts")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB1")
	if cfg.Baud != 115200 || cfg.Device != "/dev/ttyUSB1" {
		t.Errorf("Unexpected config %+v", cfg)
	}
}
