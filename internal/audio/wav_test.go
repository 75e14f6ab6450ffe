package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 100)
	wav, err := EncodeWAVPCM16LE(pcm, 24000, 1)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want 44-byte header + %d data bytes", len(wav), len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers: %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("riff size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Fatalf("sample rate = %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 24000*2 {
		t.Fatalf("byte rate = %d, want %d", got, 24000*2)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatalf("payload bytes altered")
	}
}

func TestEncodeWAVPCM16LEStereo(t *testing.T) {
	wav, err := EncodeWAVPCM16LE(make([]byte, 64), 16000, 2)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 2 {
		t.Fatalf("channels = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(wav[32:34]); got != 4 {
		t.Fatalf("block align = %d, want 4", got)
	}
}

func TestEncodeWAVPCM16LEDefaultsAndLimits(t *testing.T) {
	wav, err := EncodeWAVPCM16LE(nil, 0, 0)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Fatalf("default sample rate = %d, want 24000", got)
	}

	if _, err := EncodeWAVPCM16LE(nil, 24000, 6); err == nil {
		t.Fatalf("EncodeWAVPCM16LE must reject surround channel counts")
	}
}
