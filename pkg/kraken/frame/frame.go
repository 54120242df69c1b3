// Package frame recovers packet boundaries in the raw byte stream coming
// off the acquisition board and decodes accepted packets into samples.
package frame

import "github.com/openemg/kraken/pkg/kraken"

// RawFrame is one fixed-length candidate packet assembled from the byte
// stream. It exists for a single iteration: it is either decoded or
// discarded whole, never persisted.
type RawFrame []byte

// Valid reports whether the frame carries the profile's sync bytes and
// terminator. The firmware provides no checksum, so this is the entire
// structural check: a frame failing it is discarded in full and
// synchronization restarts.
func (f RawFrame) Valid(p kraken.Profile) bool {
	if len(f) != p.PacketLen() {
		return false
	}
	return f[0] == p.Sync1 && f[1] == p.Sync2 && f[len(f)-1] == p.End
}

// Counter returns the packet counter byte. The firmware increments it per
// packet and wraps at 0xFF; it is never validated, only used for gap
// diagnostics.
func (f RawFrame) Counter() byte {
	return f[2]
}
