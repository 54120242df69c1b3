package config

import (
	"time"

	"github.com/openemg/kraken/pkg/kraken"
)

// Config is the YAML configuration surface of the bridge binary. Profile
// fields left unset fall back to the reference UNO R4 device profile, so a
// minimal config is just the serial port.
type Config struct {
	// Device selects the transport: "serial" (default) or "file".
	Device string `yaml:"device"`

	Port string `yaml:"port"`

	// PlaybackLocation replays a raw capture instead of opening a port.
	PlaybackLocation string `yaml:"playback_location"`
	// RecordLocation tees all received bytes to a capture file.
	RecordLocation string `yaml:"record_location"`

	Profile Profile `yaml:"profile"`
	Stream  Stream  `yaml:"stream"`

	ReportInterval time.Duration `yaml:"report_interval"`

	ScopeServer struct {
		Port int `yaml:"port"`
	} `yaml:"scope_server"`

	InfluxDB struct {
		Host         string `yaml:"host"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

// Profile overrides individual fields of the default device profile. The
// byte-valued fields are pointers so that 0x00 remains expressible.
type Profile struct {
	Name       string  `yaml:"name"`
	Channels   int     `yaml:"channels"`
	SampleRate float64 `yaml:"sample_rate"`
	BaudRate   int     `yaml:"baud_rate"`
	ADCBits    int     `yaml:"adc_bits"`
	Sync1      *uint8  `yaml:"sync1"`
	Sync2      *uint8  `yaml:"sync2"`
	End        *uint8  `yaml:"end"`
}

type Stream struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	SourceID   string `yaml:"source_id"`
	ListenAddr string `yaml:"listen_addr"`
}

// BridgeProfile merges the configured overrides onto the default profile.
func (c Config) BridgeProfile() kraken.Profile {
	p := kraken.DefaultProfile()
	if c.Profile.Name != "" {
		p.Name = c.Profile.Name
	}
	if c.Profile.Channels != 0 {
		p.NumChannels = c.Profile.Channels
	}
	if c.Profile.SampleRate != 0 {
		p.SampleRate = c.Profile.SampleRate
	}
	if c.Profile.BaudRate != 0 {
		p.BaudRate = c.Profile.BaudRate
	}
	if c.Profile.ADCBits != 0 {
		p.ADCBits = c.Profile.ADCBits
	}
	if c.Profile.Sync1 != nil {
		p.Sync1 = *c.Profile.Sync1
	}
	if c.Profile.Sync2 != nil {
		p.Sync2 = *c.Profile.Sync2
	}
	if c.Profile.End != nil {
		p.End = *c.Profile.End
	}
	return p
}

// StreamInfo derives the published stream identity, with configured
// overrides applied.
func (c Config) StreamInfo(p kraken.Profile) kraken.StreamInfo {
	info := kraken.DefaultStreamInfo(p)
	if c.Stream.Name != "" {
		info.Name = c.Stream.Name
	}
	if c.Stream.Type != "" {
		info.Type = c.Stream.Type
	}
	if c.Stream.SourceID != "" {
		info.SourceID = c.Stream.SourceID
	}
	return info
}

// ListenAddr returns the stream outlet address, defaulting to the port the
// reference recording setup expects.
func (c Config) ListenAddr() string {
	if c.Stream.ListenAddr != "" {
		return c.Stream.ListenAddr
	}
	return ":16571"
}
