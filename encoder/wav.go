package encoder

import (
	"encoding/binary"
	"sync"
)

const wavHeaderSize = 44

// WAVEncoder accumulates samples and emits a canonical 44-byte-header PCM
// WAV file on Close.
type WAVEncoder struct {
	mu     sync.Mutex
	data   []byte
	out    []byte
	frames uint64
	closed bool
}

func NewWAV() *WAVEncoder {
	return &WAVEncoder{}
}

func (e *WAVEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range block {
		e.data = binary.LittleEndian.AppendUint16(e.data, uint16(s))
	}
	e.frames += uint64(len(block))
	return nil
}

func (e *WAVEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	const blockAlign = Channels * BitsPerSample / 8
	dataSize := len(e.data)
	buf := make([]byte, wavHeaderSize, wavHeaderSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], SampleRate*blockAlign)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	e.out = append(buf, e.data...)
	e.data = nil
	return nil
}

// Bytes is empty until Close.
func (e *WAVEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

func (e *WAVEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

func (e *WAVEncoder) Filename() string    { return "audio.wav" }
func (e *WAVEncoder) ContentType() string { return "audio/wav" }
