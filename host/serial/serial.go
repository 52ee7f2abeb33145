// Package serial provides the operator console over a serial line.
package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is the byte stream the console talks to. *serial.Port from
// tarm/serial satisfies it; tests substitute an in-memory port.
type Port interface {
	io.ReadWriteCloser
	Flush() error // drop unread input and unsent output
}

// Config describes the console line.
type Config struct {
	Device      string        // /dev/ttyUSB0, COM3, ...
	Baud        int           // ignored by USB CDC adapters
	ReadTimeout time.Duration // a key poll returns after this long without input
}

// DefaultConfig returns 115200 baud and a read timeout short enough for the
// console task to notice shutdown.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Open opens the line described by cfg and discards anything the terminal
// sent before the console started.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("serial: nil config")
	}
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("serial: invalid baud rate %d", cfg.Baud)
	}
	// a zero timeout would make every key poll block
	if cfg.ReadTimeout <= 0 {
		return nil, fmt.Errorf("serial: read timeout must be positive, got %v", cfg.ReadTimeout)
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	if err := p.Flush(); err != nil {
		p.Close()
		return nil, fmt.Errorf("flush %s: %w", cfg.Device, err)
	}
	return p, nil
}
