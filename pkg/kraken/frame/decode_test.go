package frame

import (
	"reflect"
	"testing"
)

func Test_DecoderDecode(t *testing.T) {
	p := testProfile()
	d := NewDecoder(p)

	fr := RawFrame{
		0xC7, 0x7C, 0x00,
		0x00, 0x01, 0x00, 0x02, 0x00, 0x03,
		0x00, 0x04, 0x00, 0x05, 0x00, 0x06,
		0x01,
	}
	if !fr.Valid(p) {
		t.Fatal("reference frame must validate")
	}

	sample := d.Decode(fr)
	want := []float32{1, 2, 3, 4, 5, 6}
	if !reflect.DeepEqual(sample.Values, want) {
		t.Errorf("values = %v, want %v", sample.Values, want)
	}
	if sample.Counter != 0x00 {
		t.Errorf("counter = %#x, want 0x00", sample.Counter)
	}

	// Decoding is a pure function of the bytes.
	again := d.Decode(fr)
	if !reflect.DeepEqual(again.Values, sample.Values) {
		t.Errorf("repeat decode = %v, want %v", again.Values, sample.Values)
	}
}

func Test_DecoderBigEndianOrder(t *testing.T) {
	p := testProfile()
	d := NewDecoder(p)

	fr := RawFrame(buildPacket(p, 0x2A, []uint16{0x3FFF, 0, 0x0100, 0x00FF, 16383, 1}))
	want := []float32{16383, 0, 256, 255, 16383, 1}
	if got := d.Decode(fr).Values; !reflect.DeepEqual(got, want) {
		t.Errorf("values = %v, want %v", got, want)
	}
}

func Test_RawFrameValid(t *testing.T) {
	p := testProfile()
	good := buildPacket(p, 0x00, []uint16{1, 2, 3, 4, 5, 6})

	mutate := func(idx int, b byte) []byte {
		out := append([]byte{}, good...)
		out[idx] = b
		return out
	}

	tests := []struct {
		name string
		fr   []byte
		want bool
	}{
		{"well formed", good, true},
		{"wrong terminator", mutate(len(good)-1, 0x02), false},
		{"wrong first sync byte", mutate(0, 0x00), false},
		{"wrong second sync byte", mutate(1, 0x00), false},
		{"truncated", good[:len(good)-1], false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RawFrame(tt.fr).Valid(p); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
