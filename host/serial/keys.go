package serial

import (
	"bytes"
	"errors"
	"io"

	"goverter/host/console"
)

// Keys reads operator keys from a port opened with a read timeout.
type Keys struct {
	port Port
	buf  [1]byte
}

// NewKeys returns a console key source backed by port.
func NewKeys(port Port) *Keys {
	return &Keys{port: port}
}

// ReadKey returns the next byte. A read that times out without data, which
// tarm/serial reports as io.EOF, becomes console.ErrNoKey.
func (k *Keys) ReadKey() (byte, error) {
	n, err := k.port.Read(k.buf[:])
	if n == 1 {
		return k.buf[0], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return 0, console.ErrNoKey
	}
	return 0, err
}

// crlfWriter expands "\n" to "\r\n" for serial terminals
type crlfWriter struct {
	w io.Writer
}

// NewTerminalWriter wraps w so line feeds reach a serial terminal as CRLF.
func NewTerminalWriter(w io.Writer) io.Writer {
	return crlfWriter{w: w}
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
