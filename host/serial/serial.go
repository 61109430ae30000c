package serial

import (
	"bufio"
	"io"
	"strings"
)

// Port represents a serial port interface
// Native builds use github.com/tarm/serial; tests pass any ReadWriteCloser.
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate of the firmware's debug UART
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the settings of the board's log UART
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}

// skipTimeouts reads from r until it returns data or a real error. On
// Linux tarm/serial hands back (0, io.EOF) when VTIME expires with nothing
// received; other platforms report (0, nil).
func skipTimeouts(r io.Reader, b []byte) (int, error) {
	for {
		n, err := r.Read(b)
		if n > 0 || (err != nil && err != io.EOF) {
			return n, err
		}
	}
}

// ReadLines splits the firmware log stream into lines and hands each one,
// without its line ending, to fn until fn returns false or r reports an
// error. A clean io.EOF returns nil. The native port retries read timeouts
// itself, so a quiet board just keeps the loop waiting.
func ReadLines(r io.Reader, fn func(line string) bool) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if !fn(strings.TrimRight(scanner.Text(), "\r")) {
			return nil
		}
	}
	return scanner.Err()
}
