package file

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func Test_FileDeviceReplay(t *testing.T) {
	data := []byte{
		0xC7, 0x7C, 0x00, 0x00, 0x01, 0x00, 0x02, 0x00,
		0x03, 0x00, 0x04, 0x00, 0x05, 0x00, 0x06, 0x01,
		0xDE, 0xAD, 0xBE, 0xEF,
	}
	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewFileDevice(path, 8, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	if err := d.Handshake(context.Background()); err != nil {
		t.Fatalf("handshake on replay must be a no-op, got %v", err)
	}

	raw := make(chan []byte, 8)
	if err := d.Start(context.Background(), raw); err != io.EOF {
		t.Fatalf("Start = %v, want io.EOF at end of capture", err)
	}

	var replayed []byte
	for {
		select {
		case chunk := <-raw:
			replayed = append(replayed, chunk...)
		default:
			if !bytes.Equal(replayed, data) {
				t.Errorf("replayed % X, want % X", replayed, data)
			}
			return
		}
	}
}
