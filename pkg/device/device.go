// Package device provides the byte transports an oven controller talks to: a real
// serial port and a simulated oven.
package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the oven firmware runs its UART at.
const DefaultBaudRate = 57600

// ErrClosed is returned by Read and Write once the transport has been closed
// underneath the caller.
var ErrClosed = errors.New("device: transport closed")

// Transport is a bidirectional byte stream to the oven MCU. ResetInputBuffer drops any
// bytes received but not yet read.
type Transport interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

var (
	_ Transport = (*Serial)(nil)
	_ Transport = (*Mock)(nil)
	_ Transport = (serial.Port)(nil)
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// PortOptions describes how the serial port is opened.
type PortOptions struct {
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// Normalize validates the options and fills unset values with 57600 8N1.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
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

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
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

// SerialMode converts the options into the mode go.bug.st/serial opens a port with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	} else {
		mode.StopBits = serial.OneStopBit
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// Serial is a Transport over a real serial port.
type Serial struct {
	name string
	port serial.Port

	mu     sync.RWMutex
	closed bool
}

// Open opens the named serial port.
func Open(name string, opts PortOptions) (*Serial, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return newSerial(name, port), nil
}

func newSerial(name string, port serial.Port) *Serial {
	return &Serial{name: name, port: port}
}

// Name returns the port name.
func (s *Serial) Name() string { return s.name }

func (s *Serial) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return n, s.mapErr(err)
	}
	if n == 0 && s.isClosed() {
		// go.bug.st/serial reports a port closed from another goroutine as a zero read.
		return 0, ErrClosed
	}
	return n, nil
}

func (s *Serial) Write(p []byte) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, s.mapErr(err)
	}
	return n, nil
}

// ResetInputBuffer discards received bytes that were not read yet.
func (s *Serial) ResetInputBuffer() error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.port.ResetInputBuffer(); err != nil {
		return s.mapErr(err)
	}
	return nil
}

// Close closes the port. Blocked readers return ErrClosed.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", s.name, err)
	}
	return nil
}

func (s *Serial) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Serial) mapErr(err error) error {
	if isClosedErr(err) || s.isClosed() {
		return fmt.Errorf("%w: %s: %v", ErrClosed, s.name, err)
	}
	return fmt.Errorf("serial %s: %w", s.name, err)
}

func isClosedErr(err error) bool {
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
		return true
	}
	return errors.Is(err, os.ErrClosed)
}
