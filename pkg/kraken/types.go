package kraken

import "time"

// Sample is one decoded set of per-channel readings from a single accepted
// packet. Values hold the raw ADC magnitudes with no scaling applied;
// calibration and units are a downstream concern.
type Sample struct {
	// Index is the acquisition index, assigned monotonically in publish
	// order by the bridge.
	Index uint64

	// Counter is the packet counter byte as sent by the firmware. It wraps
	// at 0xFF and is diagnostic only.
	Counter byte

	Values    []float32
	Timestamp time.Time
}

// StreamInfo is the identity metadata attached to the published stream so
// that downstream consumers can resolve it and align it with other
// recorded modalities.
type StreamInfo struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	ChannelCount  int     `json:"channel_count"`
	NominalRate   float64 `json:"nominal_srate"`
	ChannelFormat string  `json:"channel_format"`
	SourceID      string  `json:"source_id"`
}

// DefaultStreamInfo derives the stream identity used by the reference
// recording setup from a device profile.
func DefaultStreamInfo(p Profile) StreamInfo {
	return StreamInfo{
		Name:          "EMG_Stream",
		Type:          "EMG",
		ChannelCount:  p.NumChannels,
		NominalRate:   p.SampleRate,
		ChannelFormat: "float32",
		SourceID:      p.Name,
	}
}
