package audio

import (
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
	fakeSampleRate    = 16000
)

// FakeContext hands out FakeCapture devices that replay a fixed PCM buffer.
// It backs the headless test mode and the voice package tests.
type FakeContext struct {
	pcm      []byte
	realtime bool

	// NewErr, when set, is returned by NewCapture.
	NewErr error
	// StartErr, when set, is returned by every capture's Start.
	StartErr error
	// StopGate, when set, makes Stop block until the channel is closed.
	StopGate chan struct{}

	mu       sync.Mutex
	captures []*FakeCapture
}

// NewFakeContext replays pcm (16kHz mono s16le). When realtime is false the
// whole buffer is delivered synchronously inside Start.
func NewFakeContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

// NewFakeContextFromWAV strips the canonical WAV header from the file at path.
func NewFakeContextFromWAV(path string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContext(data, realtime), nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(device *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c := &FakeCapture{
		pcm:       f.pcm,
		realtime:  f.realtime,
		startErr:  f.StartErr,
		stopGate:  f.StopGate,
		audioDone: make(chan struct{}),
	}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

// Captures returns every device created so far, oldest first.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

// Last returns the most recently created device, or nil.
func (f *FakeContext) Last() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.captures) == 0 {
		return nil
	}
	return f.captures[len(f.captures)-1]
}

type FakeCapture struct {
	pcm      []byte
	realtime bool
	startErr error
	stopGate chan struct{}

	audioDone     chan struct{}
	audioDoneOnce sync.Once

	mu         sync.Mutex
	cb         DataCallback
	started    bool
	stopped    bool
	closed     bool
	stopClosed bool
	stopCh     chan struct{}
	feedDone   chan struct{}
}

// AudioDone is closed once the whole buffer has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Push delivers pcm to the current callback as if the device had produced it.
func (f *FakeCapture) Push(pcm []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(pcm, uint32(len(pcm)/fakeBytesPerFrame))
	}
}

func (f *FakeCapture) feed(pos int) int {
	end := min(pos+fakeFrameSize*fakeBytesPerFrame, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	f.Push(chunk)
	return end
}

func (f *FakeCapture) markAudioDone() {
	f.audioDoneOnce.Do(func() { close(f.audioDone) })
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.stopClosed = false
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()

	if !f.realtime {
		for pos := 0; pos < len(f.pcm); {
			pos = f.feed(pos)
		}
		f.markAudioDone()
		close(feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / fakeSampleRate
	go func() {
		defer close(feedDone)
		for pos := 0; pos < len(f.pcm); {
			pos = f.feed(pos)
			select {
			case <-stopCh:
				return
			case <-time.After(interval):
			}
		}
		f.markAudioDone()
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	if stopCh != nil && !f.stopClosed {
		close(stopCh)
		f.stopClosed = true
	}
	f.stopped = true
	f.mu.Unlock()

	if feedDone != nil {
		<-feedDone
	}
	if f.stopGate != nil {
		<-f.stopGate
	}
}

func (f *FakeCapture) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Released reports whether the device has been stopped and closed.
func (f *FakeCapture) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped && f.closed
}

func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}
