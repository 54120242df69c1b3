// Package viz serves a live scope view of the published channels over HTTP.
package viz

import (
	"bytes"
	"fmt"
	"image/color"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ChannelTrace keeps the most recent values of one channel and renders
// them as a PNG line plot on demand. Appends are cheap and mutex-guarded
// so the bridge can feed it from the publish loop without a scheduling
// dependency on rendering.
type ChannelTrace struct {
	name string
	size int
	yMax float64

	mu  sync.Mutex
	buf []float32
}

// NewChannelTrace retains the last size values; yMax pins the plot's value
// axis (the ADC full scale, so traces do not rescale while viewing).
func NewChannelTrace(name string, size int, yMax float64) *ChannelTrace {
	return &ChannelTrace{
		name: name,
		size: size,
		yMax: yMax,
		buf:  make([]float32, 0, size),
	}
}

func (t *ChannelTrace) Name() string {
	return t.name
}

func (t *ChannelTrace) Append(v float32) {
	t.mu.Lock()
	t.buf = append(t.buf, v)
	if len(t.buf) > t.size {
		t.buf = t.buf[len(t.buf)-t.size:]
	}
	t.mu.Unlock()
}

func (t *ChannelTrace) snapshot() []float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float32, len(t.buf))
	copy(out, t.buf)
	return out
}

// Render draws the current contents as a PNG.
func (t *ChannelTrace) Render() ([]byte, error) {
	data := t.snapshot()

	p := plotWithDefaults()
	p.Title.Text = t.name
	p.X.Label.Text = "t"
	p.Y.Label.Text = "Magnitude"
	p.Y.Min = 0
	p.Y.Max = t.yMax

	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(data))
	for i, v := range data {
		xys[i] = plotter.XY{X: float64(i), Y: float64(v)}
	}

	if err := plotutil.AddLines(p, t.name, xys); err != nil {
		return nil, fmt.Errorf("plotting %s: %w", t.name, err)
	}

	var imageData bytes.Buffer
	w, err := p.WriterTo(8*vg.Inch, 3*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	if _, err := w.WriteTo(&imageData); err != nil {
		return nil, err
	}
	return imageData.Bytes(), nil
}

func plotWithDefaults() *plot.Plot {
	p := plot.New()
	p.BackgroundColor = color.Black
	p.Title.TextStyle.Color = color.White
	for _, axis := range []*plot.Axis{&p.X, &p.Y} {
		axis.Label.TextStyle.Color = color.White
		axis.Color = color.White
		axis.Tick.Color = color.White
		axis.Tick.Label.Color = color.White
	}
	p.Legend.TextStyle.Color = color.White
	return p
}
