// Package file replays a raw serial capture, letting the whole pipeline
// run without hardware attached.
package file

import (
	"context"
	"os"
	"time"
)

type FileDevice struct {
	readFile    *os.File
	readSize    int
	timeBetween time.Duration
}

// NewFileDevice reads the capture at path in readSize chunks, one chunk per
// timeBetween tick. Pacing the reads keeps a replay from flooding the
// publisher faster than a live board would.
func NewFileDevice(path string, readSize int, timeBetween time.Duration) (*FileDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &FileDevice{
		readFile:    f,
		readSize:    readSize,
		timeBetween: timeBetween,
	}, nil
}

// Handshake is a no-op: the capture already starts mid-stream.
func (f *FileDevice) Handshake(ctx context.Context) error {
	return nil
}

// Start pushes chunks until the capture is exhausted; the terminal io.EOF
// is returned so the caller can tell a finished replay from a live failure.
func (f *FileDevice) Start(ctx context.Context, raw chan<- []byte) error {
	tick := time.NewTicker(f.timeBetween)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			buf := make([]byte, f.readSize)
			n, err := f.readFile.Read(buf)
			if err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case raw <- buf[:n]:
			}
		}
	}
}

func (f *FileDevice) Stop() error {
	return f.readFile.Close()
}
