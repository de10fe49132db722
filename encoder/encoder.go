// Package encoder packages captured 16kHz mono PCM into an uploadable file.
package encoder

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatWAV  = "wav"
	FormatFLAC = "flac"
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	// Filename is the name the upload carries, e.g. "audio.wav".
	Filename() string
	ContentType() string
}

// New returns an encoder for format ("wav" or "flac").
func New(format string) (Encoder, error) {
	switch format {
	case "", FormatWAV:
		return NewWAV(), nil
	case FormatFLAC:
		enc, err := NewFlac()
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown audio format %q", format)
	}
}

// Packaged is the result of Encode.
type Packaged struct {
	Data        []byte
	Filename    string
	ContentType string
	Frames      uint64
	EncodeTime  time.Duration
}

// Encode runs the s16le pcm through a fresh encoder of the given format.
func Encode(format string, pcm []byte) (Packaged, error) {
	enc, err := New(format)
	if err != nil {
		return Packaged{}, err
	}

	start := time.Now()
	samples := Samples(pcm)
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return Packaged{}, err
		}
	}
	if err := enc.Close(); err != nil {
		return Packaged{}, fmt.Errorf("closing %s encoder: %w", format, err)
	}

	return Packaged{
		Data:        enc.Bytes(),
		Filename:    enc.Filename(),
		ContentType: enc.ContentType(),
		Frames:      enc.TotalFrames(),
		EncodeTime:  time.Since(start),
	}, nil
}

// Samples decodes s16le bytes; a trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Duration is the playback length of frames samples at SampleRate.
func Duration(frames uint64) time.Duration {
	return time.Duration(frames) * time.Second / SampleRate
}
