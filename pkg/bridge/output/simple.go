package output

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/openemg/kraken/pkg/kraken"
)

// SimpleSampleOutput dumps raw little-endian float32 values to a writer,
// one sample per write. Useful for piping into analysis tools and as the
// sink in pipeline tests.
type SimpleSampleOutput struct {
	dest     io.Writer
	recvChan chan *kraken.Sample
}

func NewSimpleSampleOutput(dest io.Writer) *SimpleSampleOutput {
	return &SimpleSampleOutput{
		dest:     dest,
		recvChan: make(chan *kraken.Sample, 1),
	}
}

func (s *SimpleSampleOutput) Receive() chan<- *kraken.Sample {
	return s.recvChan
}

func (s *SimpleSampleOutput) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample := <-s.recvChan:
			if err := binary.Write(s.dest, binary.LittleEndian, sample.Values); err != nil {
				return err
			}
		}
	}
}
