package frame

import (
	"context"
	"sync/atomic"

	"github.com/openemg/kraken/pkg/kraken"
	"github.com/rs/zerolog"
)

// State is the synchronizer's alignment state for one bridge session.
type State int32

const (
	// StateSearching scans byte-wise for the two-byte sync sequence.
	StateSearching State = iota
	// StateAligned reads fixed-length packets back to back.
	StateAligned
)

func (s State) String() string {
	if s == StateAligned {
		return "aligned"
	}
	return "searching"
}

// Stats are the synchronizer's running counters. Rejections and resyncs
// are expected occasionally on any serial link and are never fatal.
type Stats struct {
	Frames   uint64
	Rejected uint64
	Resyncs  uint64
}

// Synchronizer assembles fixed-length packets out of an unframed byte
// stream. Feed it raw chunks in arrival order via Receive; accepted frames
// come out on the output channel, in order, at most one in flight.
//
// While searching it slides over the stream one byte at a time: a byte
// matching the first sync byte arms the scan, and if the following byte is
// not the second sync byte that following byte itself becomes the new
// candidate, so a sync pair overlapping trailing noise is never missed.
// Once aligned it stops scanning and accumulates whole packets; any packet
// failing validation is dropped in its entirety and the scan starts over.
type Synchronizer struct {
	profile kraken.Profile
	out     chan<- RawFrame
	logger  zerolog.Logger
	ctx     context.Context

	state   State
	armed   bool // searching only: previous byte was Sync1
	buf     []byte
	filling bool // searching only: sync found, completing the packet

	frames   uint64
	rejected uint64
	resyncs  uint64
}

// NewSynchronizer creates a Synchronizer for the given profile. Accepted
// frames are sent to out; the send blocks until the consumer takes the
// frame or ctx is done, keeping at most one packet ahead of the publisher.
func NewSynchronizer(ctx context.Context, profile kraken.Profile, out chan<- RawFrame, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		profile: profile,
		out:     out,
		logger:  logger,
		ctx:     ctx,
		state:   StateSearching,
		buf:     make([]byte, 0, profile.PacketLen()),
	}
}

// Receive consumes a chunk of raw bytes in arrival order. Chunk boundaries
// carry no meaning; a sync pair or packet may span any number of calls.
func (s *Synchronizer) Receive(buf []byte) {
	for i := 0; i < len(buf); i++ {
		s.receiveByte(buf[i])
	}
}

// State returns the current alignment state.
func (s *Synchronizer) State() State {
	return State(atomic.LoadInt32((*int32)(&s.state)))
}

// Stats returns a snapshot of the running counters. Safe to call from the
// reporter while Receive runs.
func (s *Synchronizer) Stats() Stats {
	return Stats{
		Frames:   atomic.LoadUint64(&s.frames),
		Rejected: atomic.LoadUint64(&s.rejected),
		Resyncs:  atomic.LoadUint64(&s.resyncs),
	}
}

func (s *Synchronizer) receiveByte(b byte) {
	if s.State() == StateAligned || s.filling {
		s.buf = append(s.buf, b)
		if len(s.buf) == s.profile.PacketLen() {
			s.complete()
		}
		return
	}

	if !s.armed {
		s.armed = b == s.profile.Sync1
		return
	}

	if b != s.profile.Sync2 {
		// The byte that broke the pair is the next candidate Sync1.
		s.armed = b == s.profile.Sync1
		return
	}

	s.buf = append(s.buf[:0], s.profile.Sync1, s.profile.Sync2)
	s.filling = true
	s.armed = false
}

func (s *Synchronizer) complete() {
	fr := make(RawFrame, len(s.buf))
	copy(fr, s.buf)
	s.buf = s.buf[:0]
	s.filling = false

	if !fr.Valid(s.profile) {
		atomic.AddUint64(&s.rejected, 1)
		if s.State() == StateAligned {
			atomic.AddUint64(&s.resyncs, 1)
			s.logger.Debug().
				Str("component", "synchronizer").
				Uint64("resyncs", atomic.LoadUint64(&s.resyncs)).
				Msg("sync lost, discarding packet")
		}
		atomic.StoreInt32((*int32)(&s.state), int32(StateSearching))
		return
	}

	atomic.StoreInt32((*int32)(&s.state), int32(StateAligned))
	atomic.AddUint64(&s.frames, 1)

	select {
	case <-s.ctx.Done():
	case s.out <- fr:
	}
}
