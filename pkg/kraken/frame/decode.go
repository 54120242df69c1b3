package frame

import (
	"encoding/binary"

	"github.com/openemg/kraken/pkg/kraken"
)

// Decoder turns validated frames into samples. Decoding a structurally
// valid frame cannot fail: offsets and widths are fixed by the profile.
type Decoder struct {
	profile kraken.Profile
}

func NewDecoder(profile kraken.Profile) *Decoder {
	return &Decoder{profile: profile}
}

// Decode reads the channel payload as big-endian unsigned 16-bit readings
// in fixed channel order. The acquisition index and timestamp are left for
// the publisher to assign.
func (d *Decoder) Decode(fr RawFrame) kraken.Sample {
	values := make([]float32, d.profile.NumChannels)
	for i := range values {
		values[i] = float32(binary.BigEndian.Uint16(fr[3+2*i:]))
	}
	return kraken.Sample{
		Counter: fr.Counter(),
		Values:  values,
	}
}
