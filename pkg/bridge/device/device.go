// Package device abstracts the byte transport the bridge reads from.
package device

import "context"

// Device is a byte-oriented acquisition transport. The bridge is its only
// reader: chunks are delivered in emission order with no reordering or
// duplication, though the underlying link may drop bytes.
type Device interface {
	// Handshake runs once before streaming begins to confirm the device is
	// alive and put it into streaming mode. Implementations for transports
	// with no handshake protocol return nil.
	Handshake(ctx context.Context) error

	// Start reads from the transport until ctx is done or the transport
	// fails, pushing raw chunks into the channel in arrival order. A stall
	// with no bytes arriving is not an error; Start keeps polling.
	Start(ctx context.Context, raw chan<- []byte) error

	// Stop releases the transport handle.
	Stop() error
}
