// Package kraken describes the wire protocol spoken by Upside Down Labs
// "Kraken" EMG acquisition boards (UNO R4 firmware) and the value types the
// bridge publishes for them.
package kraken

import "fmt"

// Profile describes the frame shape and channel semantics of one device
// firmware. A Profile is immutable after construction; the synchronizer and
// decoder never carry frame constants of their own.
type Profile struct {
	Name string

	// NumChannels is the number of 16-bit readings carried per packet.
	NumChannels int

	// SampleRate is the nominal packet rate in Hz set by the firmware.
	SampleRate float64

	BaudRate int

	// ADCBits is the converter resolution; readings range 0..2^ADCBits-1.
	ADCBits int

	// Sync1 and Sync2 open every packet, End closes it. There is no
	// checksum in this firmware generation.
	Sync1 byte
	Sync2 byte
	End   byte

	// IDRequest and StartCommand are the newline-terminated handshake
	// strings understood by the firmware.
	IDRequest    string
	StartCommand string
}

// DefaultProfile is the UNO R4 EMG firmware: 6 channels, 500 Hz, 14-bit ADC.
func DefaultProfile() Profile {
	return Profile{
		Name:         "uno-r4-udl",
		NumChannels:  6,
		SampleRate:   500.0,
		BaudRate:     230400,
		ADCBits:      14,
		Sync1:        0xC7,
		Sync2:        0x7C,
		End:          0x01,
		IDRequest:    "WHORU",
		StartCommand: "START",
	}
}

// PacketLen returns the fixed on-wire packet size: two sync bytes, one
// counter byte, two bytes per channel, one end byte.
func (p Profile) PacketLen() int {
	return 2 + 1 + 2*p.NumChannels + 1
}

func (p Profile) Validate() error {
	if p.NumChannels <= 0 {
		return fmt.Errorf("profile %q: channel count must be positive, got %d", p.Name, p.NumChannels)
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("profile %q: sample rate must be positive, got %f", p.Name, p.SampleRate)
	}
	return nil
}
