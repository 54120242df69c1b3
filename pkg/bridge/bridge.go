// Package bridge wires the acquisition device, frame recovery, and sample
// outlets into one continuously running pipeline.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/openemg/kraken/pkg/bridge/device"
	"github.com/openemg/kraken/pkg/bridge/output"
	"github.com/openemg/kraken/pkg/kraken"
	"github.com/openemg/kraken/pkg/kraken/frame"
	"github.com/openemg/kraken/pkg/util"
	"github.com/openemg/kraken/pkg/viz"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// scopeSeconds is how much trailing signal the scope view retains.
const scopeSeconds = 4

// scopeStopTimeout bounds the scope server's shutdown so a hung render
// cannot stall bridge teardown.
const scopeStopTimeout = 2 * time.Second

type Options struct {
	Profile kraken.Profile

	// Stream is the identity published to subscribers. Zero value derives
	// it from the profile.
	Stream kraken.StreamInfo

	Outputs []output.SampleOutput

	// ReportInterval is the throughput diagnostic period. Defaults to 1s.
	ReportInterval time.Duration
}

// Bridge runs the packet pipeline: device bytes → synchronizer → decoder →
// outlets, strictly in arrival order, with at most one packet in flight
// between stages.
type Bridge struct {
	device   device.Device
	opts     Options
	writeAPI api.WriteAPI
	logger   zerolog.Logger

	scope  *viz.Server
	traces []*viz.ChannelTrace

	rawChan   chan []byte
	frameChan chan frame.RawFrame
	sync      *frame.Synchronizer
	decoder   *frame.Decoder

	published   uint64
	counterGaps uint64
	startTime   time.Time

	levelMu sync.Mutex
	levels  [][]float64

	ctx    context.Context
	cancel context.CancelFunc
}

type BridgeOption func(b *Bridge) error

func WithInfluxDB(writeAPI api.WriteAPI) BridgeOption {
	return func(b *Bridge) error {
		b.writeAPI = writeAPI
		return nil
	}
}

func WithLogger(logger zerolog.Logger) BridgeOption {
	return func(b *Bridge) error {
		b.logger = logger
		return nil
	}
}

// WithScopeServer serves a live trace per channel on the given server.
// Scope appends are best-effort and never delay publishing.
func WithScopeServer(srv *viz.Server) BridgeOption {
	return func(b *Bridge) error {
		b.scope = srv
		yMax := float64(uint(1)<<uint(b.opts.Profile.ADCBits) - 1)
		size := scopeSeconds * int(b.opts.Profile.SampleRate)
		for i := 0; i < b.opts.Profile.NumChannels; i++ {
			t := viz.NewChannelTrace(fmt.Sprintf("ch-%d", i+1), size, yMax)
			b.traces = append(b.traces, t)
			srv.Register(t)
		}
		srv.SetStatus(func() interface{} { return b.Stats() })
		return nil
	}
}

func New(dev device.Device, opts Options, bopts ...BridgeOption) (*Bridge, error) {
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Outputs) == 0 {
		return nil, fmt.Errorf("must configure at least one output")
	}
	if opts.Stream.ChannelCount == 0 {
		opts.Stream = kraken.DefaultStreamInfo(opts.Profile)
	}
	if opts.Stream.ChannelCount != opts.Profile.NumChannels {
		return nil, fmt.Errorf("stream channel count %d does not match profile channel count %d",
			opts.Stream.ChannelCount, opts.Profile.NumChannels)
	}
	if opts.ReportInterval == 0 {
		opts.ReportInterval = time.Second
	}

	b := &Bridge{
		device:    dev,
		opts:      opts,
		writeAPI:  &util.MockWriteAPI{}, // overwritten with option
		logger:    log.Logger,
		rawChan:   make(chan []byte, 1),
		frameChan: make(chan frame.RawFrame, 1),
		decoder:   frame.NewDecoder(opts.Profile),
		levels:    make([][]float64, opts.Profile.NumChannels),
	}

	for _, opt := range bopts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Stats is the point-in-time counter snapshot served at /status and
// summarized by the reporter.
type Stats struct {
	Published     uint64  `json:"published"`
	Rejected      uint64  `json:"rejected"`
	Resyncs       uint64  `json:"resyncs"`
	CounterGaps   uint64  `json:"counter_gaps"`
	SyncState     string  `json:"sync_state"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (b *Bridge) Stats() Stats {
	s := Stats{
		Published:   atomic.LoadUint64(&b.published),
		CounterGaps: atomic.LoadUint64(&b.counterGaps),
		SyncState:   frame.StateSearching.String(),
	}
	if b.sync != nil {
		fs := b.sync.Stats()
		s.Rejected = fs.Rejected
		s.Resyncs = fs.Resyncs
		s.SyncState = b.sync.State().String()
	}
	if !b.startTime.IsZero() {
		s.UptimeSeconds = time.Since(b.startTime).Seconds()
	}
	return s
}

func (b *Bridge) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.scope != nil {
		ctx, cancel := context.WithTimeout(context.Background(), scopeStopTimeout)
		defer cancel()
		b.scope.Stop(ctx)
	}
	return b.device.Stop()
}

func (b *Bridge) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.sync = frame.NewSynchronizer(b.ctx, b.opts.Profile, b.frameChan, b.logger)
	b.startTime = time.Now()

	if err := b.device.Handshake(b.ctx); err != nil {
		return fmt.Errorf("device handshake: %w", err)
	}

	eg.Go(func() error {
		return b.device.Start(b.ctx, b.rawChan)
	})

	eg.Go(b.feedSynchronizer)
	eg.Go(b.publishSamples)
	eg.Go(b.report)

	for _, out := range b.opts.Outputs {
		thisOutput := out
		eg.Go(func() error {
			return thisOutput.Start(b.ctx)
		})
	}

	if b.scope != nil {
		eg.Go(func() error {
			return b.scope.Run(b.ctx)
		})
	}

	b.logger.Info().
		Str("profile", b.opts.Profile.Name).
		Int("channels", b.opts.Profile.NumChannels).
		Float64("sample_rate", b.opts.Profile.SampleRate).
		Str("stream", b.opts.Stream.Name).
		Msg("starting bridge")

	return eg.Wait()
}

func (b *Bridge) feedSynchronizer() error {
	for {
		select {
		case <-b.ctx.Done():
			return b.ctx.Err()
		case chunk := <-b.rawChan:
			b.sync.Receive(chunk)
		}
	}
}

func (b *Bridge) publishSamples() error {
	var lastCounter byte
	var haveLast bool

	for {
		select {
		case <-b.ctx.Done():
			return b.ctx.Err()
		case fr := <-b.frameChan:
			s := b.decoder.Decode(fr)
			s.Index = atomic.LoadUint64(&b.published)
			s.Timestamp = time.Now().UTC()
			sample := &s

			// Counter deltas wrap at 0xFF; anything but +1 between
			// adjacent accepted packets is a gap worth noting, never an
			// error.
			if haveLast && sample.Counter-lastCounter != 1 {
				atomic.AddUint64(&b.counterGaps, 1)
				b.logger.Debug().
					Uint8("previous", lastCounter).
					Uint8("current", sample.Counter).
					Msg("packet counter discontinuity")
			}
			lastCounter = sample.Counter
			haveLast = true

			delivered := true
			publishMicros := util.TimeOperationMicroseconds(func() {
				for _, out := range b.opts.Outputs {
					select {
					case <-b.ctx.Done():
						delivered = false
						return
					case out.Receive() <- sample:
					}
				}
			})
			if !delivered {
				return b.ctx.Err()
			}

			atomic.AddUint64(&b.published, 1)

			for i, t := range b.traces {
				t.Append(sample.Values[i])
			}
			b.accumulateLevels(sample.Values)

			go b.writeAPI.WritePoint(influxdb2.NewPoint("bridge.sample.published",
				map[string]string{
					"stream":  b.opts.Stream.Name,
					"profile": b.opts.Profile.Name,
				},
				map[string]interface{}{
					"index":               sample.Index,
					"counter":             int(sample.Counter),
					"publish_duration_us": publishMicros,
				}, time.Now()))
		}
	}
}

func (b *Bridge) accumulateLevels(values []float32) {
	b.levelMu.Lock()
	for i, v := range values {
		// Bound the accumulator in case the reporter falls behind.
		if len(b.levels[i]) >= 10*int(b.opts.Profile.SampleRate) {
			b.levels[i] = b.levels[i][1:]
		}
		b.levels[i] = append(b.levels[i], float64(v))
	}
	b.levelMu.Unlock()
}

func (b *Bridge) takeLevels() [][]float64 {
	b.levelMu.Lock()
	defer b.levelMu.Unlock()
	out := b.levels
	b.levels = make([][]float64, b.opts.Profile.NumChannels)
	return out
}
