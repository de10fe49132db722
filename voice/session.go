// Package voice records one utterance at a time from the microphone and
// turns it into a transcript via the backend.
package voice

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chikitsa/audio"
	"chikitsa/encoder"
	"chikitsa/log"
)

type State int

const (
	Idle State = iota
	Recording
	Stopping
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Transcriber is satisfied by *assistant.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, contentType string) (string, error)
}

// Result is the outcome of one Stop. Exactly one of Transcript or Err is
// meaningful; Attempt matches the value Begin returned for that recording.
type Result struct {
	Attempt    uint64
	Transcript string
	Err        error
}

const minFrames = encoder.SampleRate / 10

type Option func(*Session)

// WithFormat selects the upload format, "wav" (default) or "flac".
func WithFormat(format string) Option {
	return func(s *Session) { s.format = format }
}

// WithDevice records from device instead of the system default.
func WithDevice(device *audio.DeviceInfo) Option {
	return func(s *Session) { s.device = device }
}

// WithTimeout bounds each transcription upload.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

type Session struct {
	devices     audio.Context
	transcriber Transcriber
	format      string
	device      *audio.DeviceInfo
	timeout     time.Duration

	mu         sync.Mutex
	state      State
	attempt    uint64
	capture    audio.CaptureDevice
	chunks     [][]byte
	frames     uint64
	discard    bool
	submitting bool
	started    time.Time
	level      float64
	parent     context.Context

	results chan Result
	done    chan struct{}
	once    sync.Once
	sampled rate.Sometimes
}

// New returns an idle session. devices may be nil, in which case every
// Begin fails with Unsupported.
func New(devices audio.Context, transcriber Transcriber, opts ...Option) *Session {
	s := &Session{
		devices:     devices,
		transcriber: transcriber,
		format:      encoder.FormatWAV,
		results:     make(chan Result, 1),
		done:        make(chan struct{}),
		sampled:     rate.Sometimes{Interval: time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Results delivers one Result per Stop that was not cancelled.
func (s *Session) Results() <-chan Result { return s.results }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the number of the current or most recent recording.
func (s *Session) Attempt() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Level is a smoothed RMS of recent input in [0,1].
func (s *Session) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return 0
	}
	return s.level
}

func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return 0
	}
	return time.Since(s.started)
}

// Begin acquires a capture device and starts buffering audio. ctx bounds
// the transcription that a later Stop triggers.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Recording || s.state == Stopping {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.devices == nil {
		s.mu.Unlock()
		return &CaptureError{Kind: Unsupported}
	}

	dev, err := s.devices.NewCapture(s.device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		s.mu.Unlock()
		return &CaptureError{Kind: Unsupported, Err: err}
	}

	s.attempt++
	attempt := s.attempt
	s.state = Recording
	s.capture = dev
	s.chunks = nil
	s.frames = 0
	s.level = 0
	s.discard = false
	s.submitting = false
	s.started = time.Now()
	s.parent = ctx
	dev.SetCallback(s.onData(attempt))
	s.mu.Unlock()

	log.Infof("recording_start attempt=%d device=%s", attempt, dev.DeviceName())

	err = dev.Start()

	s.mu.Lock()
	// Stop or Cancel may have taken the device while it was starting.
	taken := s.capture != dev
	if err != nil && !taken {
		s.state = Idle
		s.capture = nil
		s.chunks = nil
	}
	s.mu.Unlock()

	switch {
	case taken:
		release(dev)
		return nil
	case err != nil:
		release(dev)
		return &CaptureError{Kind: PermissionDenied, Err: err}
	}
	return nil
}

func (s *Session) onData(attempt uint64) audio.DataCallback {
	return func(data []byte, frameCount uint32) {
		rms := chunkRMS(data)

		s.mu.Lock()
		if s.attempt != attempt || s.state != Recording {
			s.mu.Unlock()
			return
		}
		s.chunks = append(s.chunks, data)
		s.frames += uint64(frameCount)
		s.level = 0.6*s.level + 0.4*rms
		frames := s.frames
		s.mu.Unlock()

		s.sampled.Do(func() {
			log.Debugf("capture attempt=%d frames=%d rms=%.3f", attempt, frames, rms)
		})
	}
}

func chunkRMS(data []byte) float64 {
	if len(data) < 2 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(len(data)/2))
}

// Stop ends the recording and submits it for transcription in the
// background. The Result arrives on Results. No-op unless Recording.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	attempt := s.attempt
	dev := s.capture
	s.capture = nil
	s.mu.Unlock()

	log.Infof("recording_stop attempt=%d", attempt)
	go s.finalize(attempt, dev)
}

// Cancel abandons the current recording; nothing is uploaded. It is
// idempotent and does nothing once an upload has begun.
func (s *Session) Cancel() {
	s.mu.Lock()
	var dev audio.CaptureDevice
	switch {
	case s.state == Recording:
		dev = s.capture
		s.capture = nil
	case s.state == Stopping && !s.submitting:
	default:
		s.mu.Unlock()
		return
	}
	s.state = Cancelled
	s.discard = true
	s.chunks = nil
	attempt := s.attempt
	s.mu.Unlock()

	log.Infof("recording_cancel attempt=%d", attempt)
	if dev != nil {
		go release(dev)
	}
}

// Close cancels any recording and unblocks pending result delivery.
func (s *Session) Close() {
	s.Cancel()
	s.once.Do(func() { close(s.done) })
}

func release(dev audio.CaptureDevice) {
	dev.Stop()
	dev.ClearCallback()
	dev.Close()
}

func (s *Session) finalize(attempt uint64, dev audio.CaptureDevice) {
	release(dev)

	s.mu.Lock()
	if s.attempt != attempt || s.discard || s.state != Stopping {
		s.mu.Unlock()
		return
	}
	s.submitting = true
	chunks := s.chunks
	frames := s.frames
	s.chunks = nil
	parent := s.parent
	s.mu.Unlock()

	var r Result
	if frames < minFrames {
		r = Result{Attempt: attempt, Err: ErrNoAudio}
	} else {
		r = s.transcribe(parent, attempt, dev.DeviceName(), chunks, frames)
	}

	s.mu.Lock()
	if s.attempt == attempt {
		s.state = Idle
		s.submitting = false
	}
	s.mu.Unlock()

	select {
	case s.results <- r:
	case <-s.done:
	}
}

func (s *Session) transcribe(parent context.Context, attempt uint64, device string, chunks [][]byte, frames uint64) Result {
	var size int
	for _, c := range chunks {
		size += len(c)
	}
	pcm := make([]byte, 0, size)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}

	packaged, err := encoder.Encode(s.format, pcm)
	if err != nil {
		log.Errorf("encode attempt=%d: %v", attempt, err)
		return Result{Attempt: attempt, Err: &CaptureError{Kind: TranscriptionFailed, Err: err}}
	}
	log.CaptureMetrics(log.Capture{
		Attempt:      attempt,
		Device:       device,
		Format:       s.format,
		AudioLengthS: encoder.Duration(frames).Seconds(),
		RawSizeKB:    float64(len(pcm)) / 1024,
		EncodedKB:    float64(len(packaged.Data)) / 1024,
		EncodeTimeMs: float64(packaged.EncodeTime.Microseconds()) / 1000,
	})

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := parent, context.CancelFunc(func() {})
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, s.timeout)
	}
	defer cancel()

	text, err := s.transcriber.Transcribe(ctx, packaged.Data, packaged.Filename, packaged.ContentType)
	if err != nil {
		log.Errorf("transcription attempt=%d: %v", attempt, err)
		return Result{Attempt: attempt, Err: &CaptureError{Kind: TranscriptionFailed, Err: err}}
	}
	log.Transcript(text)
	return Result{Attempt: attempt, Transcript: text}
}
