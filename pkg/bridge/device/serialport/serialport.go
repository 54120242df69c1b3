// Package serialport implements the bridge device over a serial-connected
// acquisition board.
package serialport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/openemg/kraken/pkg/kraken"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const (
	// readChunkSize bounds a single serial read. At 500 Hz and 16 bytes per
	// packet the board emits ~8 KB/s, so one chunk holds many packets.
	readChunkSize = 512

	// readTimeout bounds how long a read blocks when the line is silent.
	// The timeout itself does the waiting; a zero-byte result is retried
	// without sleeping.
	readTimeout = 100 * time.Millisecond

	// handshakeSettle is the interval between sending the identification
	// request and collecting whatever reply arrived.
	handshakeSettle = 100 * time.Millisecond
)

// SerialDevice reads the packet stream from a board on a serial port and
// performs the WHORU/START handshake. Optionally tees every received chunk
// to a capture file for later replay.
type SerialDevice struct {
	portName string
	profile  kraken.Profile
	port     serial.Port
	record   io.WriteCloser
	logger   zerolog.Logger
}

type SerialOption func(d *SerialDevice) error

// WithRecording tees all received bytes to the given path, in the format
// the file replay device reads back.
func WithRecording(path string) SerialOption {
	return func(d *SerialDevice) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create capture file: %w", err)
		}
		d.record = f
		return nil
	}
}

func WithLogger(logger zerolog.Logger) SerialOption {
	return func(d *SerialDevice) error {
		d.logger = logger
		return nil
	}
}

// NewSerialDevice opens portName at the profile's baud rate, 8N1.
func NewSerialDevice(portName string, profile kraken.Profile, opts ...SerialOption) (*SerialDevice, error) {
	mode := &serial.Mode{
		BaudRate: profile.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	d := &SerialDevice{
		portName: portName,
		profile:  profile,
		port:     port,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			port.Close()
			return nil, err
		}
	}
	return d, nil
}

// Handshake flushes stale bytes, asks the board to identify itself, logs
// whatever it answers, and commands it to start streaming. The reply is
// best-effort: an empty or garbled answer is logged and ignored. Only a
// failed write is fatal, since it means the transport itself is broken.
func (d *SerialDevice) Handshake(ctx context.Context) error {
	d.port.ResetInputBuffer()
	d.port.ResetOutputBuffer()

	if err := d.writeCommand(d.profile.IDRequest); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(handshakeSettle):
	}

	reply := make([]byte, 256)
	n, err := d.port.Read(reply)
	if err != nil {
		d.logger.Warn().Err(err).Str("port", d.portName).Msg("no identification reply")
	} else {
		d.logger.Info().
			Str("port", d.portName).
			Str("reply", strings.TrimSpace(string(reply[:n]))).
			Msg("board identification")
	}

	if err := d.writeCommand(d.profile.StartCommand); err != nil {
		return err
	}
	d.logger.Info().Str("port", d.portName).Str("command", d.profile.StartCommand).Msg("streaming started")
	return nil
}

func (d *SerialDevice) writeCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := d.port.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("write %q to %s: %w", strings.TrimSpace(command), d.portName, err)
	}
	if n != len(command) {
		return fmt.Errorf("short write of %q to %s", strings.TrimSpace(command), d.portName)
	}
	return nil
}

// Start reads chunks until ctx is done or the port fails. Read timeouts
// surface as zero-byte reads and are polled again; every non-empty chunk is
// pushed in arrival order.
func (d *SerialDevice) Start(ctx context.Context, raw chan<- []byte) error {
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := d.port.Read(buf)
		if err != nil {
			return fmt.Errorf("serial read on %s: %w", d.portName, err)
		}
		if n == 0 {
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])

		if d.record != nil {
			if _, err := d.record.Write(chunk); err != nil {
				return fmt.Errorf("write capture file: %w", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw <- chunk:
		}
	}
}

// Stop closes the capture file, if any, and the port.
func (d *SerialDevice) Stop() error {
	if d.record != nil {
		if err := d.record.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("closing capture file")
		}
	}
	return d.port.Close()
}
