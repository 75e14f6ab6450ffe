// Package audio wraps raw PCM speech output in a standard WAV container so it
// can feed the video engine and browser playback.
package audio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// EncodeWAVPCM16LE wraps raw PCM16LE audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate, channels int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate, channels); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate, channels int) error {
	const (
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	if channels <= 0 {
		channels = 1
	}
	if channels > 2 {
		return fmt.Errorf("unsupported channel count %d", channels)
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := writeLE(w, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	for _, v := range []any{
		uint32(16),
		uint16(audioFormat),
		uint16(channels),
		uint32(sampleRate),
		byteRate,
		blockAlign,
		uint16(bitsPerSample),
	} {
		if err := writeLE(w, v); err != nil {
			return err
		}
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := writeLE(w, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

func writeLE(w io.Writer, v any) error {
	switch t := v.(type) {
	case uint16:
		_, err := w.Write([]byte{byte(t), byte(t >> 8)})
		return err
	case uint32:
		_, err := w.Write([]byte{byte(t), byte(t >> 8), byte(t >> 16), byte(t >> 24)})
		return err
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}
