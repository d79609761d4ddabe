// Package serialport opens the operator command link: a real serial port
// through go.bug.st/serial, or the process's stdin/stdout when no port is
// configured.
package serialport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the link speed of the reference controller.
const DefaultBaudRate = 921600

var standardBaudRates = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true, 19200: true, 38400: true,
	57600: true, 115200: true, 230400: true, 460800: true, 921600: true,
}

// PortOptions describes the serial line settings.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if !standardBaudRates[opts.BaudRate] {
		return opts, fmt.Errorf("unsupported baud rate %d", opts.BaudRate)
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch parity := strings.TrimSpace(strings.ToUpper(opts.Parity)); parity {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial expects.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Open opens the serial device at path. An empty path returns the
// process's standard streams.
func Open(path string, opts PortOptions) (io.ReadWriteCloser, error) {
	if path == "" {
		return Stdio(), nil
	}

	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// Ports lists the serial devices present on this machine.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }

// Stdio returns stdin/stdout as a link. Close is a no-op.
func Stdio() io.ReadWriteCloser {
	return stdio{Reader: os.Stdin, Writer: os.Stdout}
}

// Monitor reads newline-terminated lines from r and hands each, trimmed of
// surrounding whitespace, to handle. It returns when r is exhausted, on a
// read error, or when ctx is done.
func Monitor(ctx context.Context, r io.Reader, handle func(line string)) error {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 4096), 64*1024)

	lines := make(chan string)
	scanErr := make(chan error, 1)

	// The blocking Scan runs on its own goroutine so cancellation is not
	// held up by a quiet link.
	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if line = strings.TrimSpace(line); line != "" {
				handle(line)
			}
		}
	}
}
