// Package output delivers published samples to downstream consumers.
package output

import (
	"context"

	"github.com/openemg/kraken/pkg/kraken"
)

// SampleOutput handles decoded samples from the bridge.
//
// The bridge sends into Receive's channel with a blocking send, in decode
// order. An output must therefore keep draining the channel for the life of
// Start; an output whose Start returns an error takes the whole bridge down
// with it, since there is no retry buffer.
type SampleOutput interface {
	// Start receives a context and should run in a loop, terminating upon
	// ctx closing or on any errors.
	Start(ctx context.Context) error
	// Receive returns the channel the bridge publishes samples into.
	Receive() chan<- *kraken.Sample
}
