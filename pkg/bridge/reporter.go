package bridge

import (
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"gonum.org/v1/gonum/stat"
)

// report emits one throughput line per interval off the data path. A tick
// that lands late or gets skipped under load is acceptable; the counters
// are cumulative so nothing is lost.
func (b *Bridge) report() error {
	tick := time.NewTicker(b.opts.ReportInterval)
	defer tick.Stop()

	var lastPublished uint64

	for {
		select {
		case <-b.ctx.Done():
			return b.ctx.Err()
		case <-tick.C:
			stats := b.sync.Stats()
			published := atomic.LoadUint64(&b.published)
			gaps := atomic.LoadUint64(&b.counterGaps)

			b.logger.Info().
				Uint64("published", published).
				Uint64("interval", published-lastPublished).
				Uint64("rejected", stats.Rejected).
				Uint64("resyncs", stats.Resyncs).
				Uint64("counter_gaps", gaps).
				Str("sync_state", b.sync.State().String()).
				Msg("pushed samples")
			lastPublished = published

			fields := map[string]interface{}{
				"published":    published,
				"rejected":     stats.Rejected,
				"resyncs":      stats.Resyncs,
				"counter_gaps": gaps,
			}

			// Per-channel signal level over the interval. MeanStdDev gives
			// the DC offset and the AC amplitude of each electrode, which
			// is the quickest health check for a loose contact.
			for i, values := range b.takeLevels() {
				if len(values) < 2 {
					continue
				}
				mean, std := stat.MeanStdDev(values, nil)
				fields[fmt.Sprintf("ch%d_mean", i+1)] = mean
				fields[fmt.Sprintf("ch%d_stddev", i+1)] = std
			}

			go b.writeAPI.WritePoint(influxdb2.NewPoint("bridge.report",
				map[string]string{
					"stream":  b.opts.Stream.Name,
					"profile": b.opts.Profile.Name,
				},
				fields, time.Now()))
		}
	}
}
