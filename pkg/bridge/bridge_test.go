package bridge

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/openemg/kraken/pkg/bridge/output"
	"github.com/openemg/kraken/pkg/kraken"
	"github.com/openemg/kraken/pkg/viz"
)

// scriptedDevice pushes a fixed sequence of chunks, then idles until the
// bridge shuts down.
type scriptedDevice struct {
	chunks [][]byte
}

func (d *scriptedDevice) Handshake(ctx context.Context) error { return nil }

func (d *scriptedDevice) Start(ctx context.Context, raw chan<- []byte) error {
	for _, chunk := range d.chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw <- chunk:
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *scriptedDevice) Stop() error { return nil }

// collectorOutput records published samples and signals once it has seen
// the expected number.
type collectorOutput struct {
	recvChan chan *kraken.Sample
	want     int
	done     chan struct{}

	mu      sync.Mutex
	samples []*kraken.Sample
}

func newCollector(want int) *collectorOutput {
	return &collectorOutput{
		recvChan: make(chan *kraken.Sample, 1),
		want:     want,
		done:     make(chan struct{}),
	}
}

func (c *collectorOutput) Receive() chan<- *kraken.Sample { return c.recvChan }

func (c *collectorOutput) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-c.recvChan:
			c.mu.Lock()
			c.samples = append(c.samples, s)
			if len(c.samples) == c.want {
				close(c.done)
			}
			c.mu.Unlock()
		}
	}
}

func (c *collectorOutput) collected() []*kraken.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*kraken.Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

func buildPacket(p kraken.Profile, counter byte, values []uint16) []byte {
	buf := []byte{p.Sync1, p.Sync2, counter}
	for _, v := range values {
		buf = append(buf, byte(v>>8), byte(v))
	}
	return append(buf, p.End)
}

// runBridge runs a bridge over the given byte stream until the collector
// has seen want samples, then tears it down and returns what was
// published along with the final counters.
func runBridge(t *testing.T, stream []byte, want int) ([]*kraken.Sample, Stats) {
	t.Helper()

	// Split the stream into uneven chunks so packets straddle reads.
	var chunks [][]byte
	for len(stream) > 0 {
		n := 5
		if n > len(stream) {
			n = len(stream)
		}
		chunks = append(chunks, stream[:n])
		stream = stream[n:]
	}

	collector := newCollector(want)
	br, err := New(&scriptedDevice{chunks: chunks}, Options{
		Profile: kraken.DefaultProfile(),
		Outputs: []output.SampleOutput{collector},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- br.Start(ctx)
	}()

	select {
	case <-collector.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %d samples, got %d", want, len(collector.collected()))
	}

	cancel()
	if err := <-errCh; err != nil && err != context.Canceled {
		t.Fatalf("bridge exited with %v", err)
	}

	return collector.collected(), br.Stats()
}

func Test_BridgePublishOrder(t *testing.T) {
	p := kraken.DefaultProfile()
	var stream []byte
	for i := 0; i < 3; i++ {
		v := uint16(i + 1)
		stream = append(stream, buildPacket(p, byte(i), []uint16{v, v, v, v, v, v})...)
	}

	samples, _ := runBridge(t, stream, 3)

	for i, s := range samples {
		if s.Index != uint64(i) {
			t.Errorf("sample %d: index = %d, want %d", i, s.Index, i)
		}
		if s.Counter != byte(i) {
			t.Errorf("sample %d: counter = %d, want %d", i, s.Counter, i)
		}
		want := []float32{float32(i + 1), float32(i + 1), float32(i + 1), float32(i + 1), float32(i + 1), float32(i + 1)}
		if !reflect.DeepEqual(s.Values, want) {
			t.Errorf("sample %d: values = %v, want %v", i, s.Values, want)
		}
	}
}

func Test_BridgeSkipsCorruptPacket(t *testing.T) {
	p := kraken.DefaultProfile()
	f1 := buildPacket(p, 0x00, []uint16{1, 1, 1, 1, 1, 1})
	f2 := buildPacket(p, 0x01, []uint16{2, 2, 2, 2, 2, 2})
	f2[len(f2)-1] = 0x02 // terminator corrupted: whole packet must vanish
	f3 := buildPacket(p, 0x02, []uint16{3, 3, 3, 3, 3, 3})

	stream := append(append(append([]byte{}, f1...), f2...), f3...)
	samples, stats := runBridge(t, stream, 2)

	if samples[0].Values[0] != 1 || samples[1].Values[0] != 3 {
		t.Errorf("published values = %v, %v; corrupt packet leaked", samples[0].Values, samples[1].Values)
	}
	if samples[0].Index != 0 || samples[1].Index != 1 {
		t.Errorf("indices = %d, %d; want 0, 1", samples[0].Index, samples[1].Index)
	}
	if stats.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", stats.Rejected)
	}
	if stats.Published != 2 {
		t.Errorf("published = %d, want 2", stats.Published)
	}
}

func Test_BridgeCounterGapDiagnostic(t *testing.T) {
	p := kraken.DefaultProfile()
	var stream []byte
	for _, counter := range []byte{0x00, 0x01, 0x05} {
		stream = append(stream, buildPacket(p, counter, []uint16{1, 2, 3, 4, 5, 6})...)
	}

	samples, stats := runBridge(t, stream, 3)

	// The gap is diagnostic only: all three packets still publish.
	if len(samples) != 3 {
		t.Fatalf("published %d samples, want 3", len(samples))
	}
	if stats.CounterGaps != 1 {
		t.Errorf("counter gaps = %d, want 1", stats.CounterGaps)
	}
}

func Test_BridgeCounterWrap(t *testing.T) {
	p := kraken.DefaultProfile()
	var stream []byte
	for _, counter := range []byte{0xFE, 0xFF, 0x00, 0x01} {
		stream = append(stream, buildPacket(p, counter, []uint16{1, 2, 3, 4, 5, 6})...)
	}

	_, stats := runBridge(t, stream, 4)
	if stats.CounterGaps != 0 {
		t.Errorf("counter gaps = %d, want 0 across the 0xFF wrap", stats.CounterGaps)
	}
}

func Test_BridgeStopBoundedWithScope(t *testing.T) {
	scope := viz.NewServer(0)
	br, err := New(&scriptedDevice{}, Options{
		Profile: kraken.DefaultProfile(),
		Outputs: []output.SampleOutput{newCollector(1)},
	}, WithScopeServer(scope))
	if err != nil {
		t.Fatal(err)
	}

	// Teardown must complete on its own even if the scope server never
	// finishes shutting down cleanly.
	done := make(chan error, 1)
	go func() {
		done <- br.Stop()
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop() = %v, want nil", err)
		}
	case <-time.After(2 * scopeStopTimeout):
		t.Fatal("Stop did not return within the scope shutdown bound")
	}
}

func Test_BridgeNewValidation(t *testing.T) {
	if _, err := New(&scriptedDevice{}, Options{Profile: kraken.DefaultProfile()}); err == nil {
		t.Error("no outputs must not construct")
	}

	p := kraken.DefaultProfile()
	p.NumChannels = 0
	if _, err := New(&scriptedDevice{}, Options{
		Profile: p,
		Outputs: []output.SampleOutput{newCollector(1)},
	}); err == nil {
		t.Error("invalid profile must not construct")
	}

	info := kraken.DefaultStreamInfo(kraken.DefaultProfile())
	info.ChannelCount = 3
	if _, err := New(&scriptedDevice{}, Options{
		Profile: kraken.DefaultProfile(),
		Stream:  info,
		Outputs: []output.SampleOutput{newCollector(1)},
	}); err == nil {
		t.Error("mismatched stream channel count must not construct")
	}
}
