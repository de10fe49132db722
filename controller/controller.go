// Package controller runs the conversational turn: it owns the timeline,
// the answer reveal and the voice capture, and serialises every change to
// them through one event loop.
package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"chikitsa/log"
	"chikitsa/reveal"
	"chikitsa/timeline"
	"chikitsa/voice"
)

const (
	NoticeTranscriptionFailed = "Transcription failed."
	NoticeResetFailed         = "Failed to reset conversation."
	NoticeAlreadyRecording    = "Already recording."
	NoticeStillTranscribing   = "Still transcribing the previous recording."
	NoticeNoAudio             = "No audio recorded."
	NoticeNoSpeech            = "No speech detected."
	NoticeVoiceUnavailable    = "Voice input is unavailable."
	NoticeNoMicrophone        = "No microphone available. Voice input is disabled for this session."
	NoticeMicrophoneDenied    = "Microphone access was denied. Voice input is disabled for this session."
)

const (
	DefaultRequestTimeout = 60 * time.Second
	levelInterval         = 100 * time.Millisecond
	// resetDrainTimeout bounds how long shutdown waits for a /reset.
	resetDrainTimeout = 2 * time.Second
)

// Assistant is satisfied by *assistant.Client.
type Assistant interface {
	Ask(ctx context.Context, question string) (string, error)
	Reset(ctx context.Context) error
}

// Recorder is satisfied by *voice.Session.
type Recorder interface {
	Begin(ctx context.Context) error
	Stop()
	Cancel()
	Results() <-chan voice.Result
	Attempt() uint64
	Level() float64
	Elapsed() time.Duration
}

// Cues marks recording boundaries audibly. Calls come from the loop and
// must not block. Satisfied by *cue.Player.
type Cues interface {
	Start()
	Stop()
	Error()
}

type silent struct{}

func (silent) Start() {}
func (silent) Stop()  {}
func (silent) Error() {}

// Notice is a transient message for the user. Blocking notices must be
// acknowledged with DismissNotice.
type Notice struct {
	Text     string
	Blocking bool
}

// State is a render-ready copy of the controller. It shares nothing with
// the loop.
type State struct {
	Messages       []timeline.Message
	Mode           Mode
	Draft          string
	Notice         Notice
	VoiceAvailable bool
	Level          float64
	Elapsed        time.Duration
}

// AcceptsInput reports whether the user may type, submit or record.
func (s State) AcceptsInput() bool {
	return s.Mode != nil && acceptsInput(s.Mode)
}

// LastAnswer returns the text of the newest assistant message that is
// not pending, as currently shown.
func (s State) LastAnswer() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Sender == timeline.Assistant && m.Status != timeline.Pending {
			return m.Text
		}
	}
	return ""
}

type Option func(*Controller)

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithRevealEngine replaces the default 20ms wall-clock reveal.
func WithRevealEngine(e *reveal.Engine) Option {
	return func(c *Controller) {
		if e != nil {
			c.revealer = e
		}
	}
}

// WithCues plays sounds when recording starts, stops or fails.
func WithCues(cues Cues) Option {
	return func(c *Controller) {
		if cues != nil {
			c.cues = cues
		}
	}
}

type Controller struct {
	assistant Assistant
	recorder  Recorder
	revealer  *reveal.Engine
	cues      Cues
	timeout   time.Duration

	events  chan any
	updates chan State
	quit    chan struct{}
	once    sync.Once
	resets  sync.WaitGroup

	// Owned by the loop goroutine.
	runCtx         context.Context
	tl             *timeline.Timeline
	mode           Mode
	draft          string
	notice         Notice
	voiceAvailable bool
	voiceAttempt   uint64
	reveal         *reveal.Handle
	revealRef      timeline.Ref
	revealSeq      uint64
	chatCancel     context.CancelFunc
	resetSeq       uint64
	turns          int
}

type opEvent struct {
	fn   func()
	done chan struct{}
}

type chatDone struct {
	question    string
	placeholder timeline.Ref
	answer      string
	err         error
}

type revealTick struct {
	seq    uint64
	prefix string
}

type revealDone struct {
	seq uint64
}

type resetDone struct {
	seq uint64
	err error
}

// New builds a controller. recorder may be nil, in which case voice input
// is unavailable.
func New(a Assistant, recorder Recorder, opts ...Option) *Controller {
	c := &Controller{
		assistant:      a,
		recorder:       recorder,
		revealer:       reveal.New(nil, reveal.DefaultInterval),
		cues:           silent{},
		timeout:        DefaultRequestTimeout,
		events:         make(chan any, 64),
		updates:        make(chan State, 1),
		quit:           make(chan struct{}),
		runCtx:         context.Background(),
		tl:             timeline.New(),
		mode:           Idle{},
		voiceAvailable: recorder != nil,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Updates delivers the latest State after every change. Intermediate
// states may be skipped if the reader is slow.
func (c *Controller) Updates() <-chan State { return c.updates }

// Run processes events until ctx is done or Close is called.
func (c *Controller) Run(ctx context.Context) {
	c.runCtx = ctx
	var voiceResults <-chan voice.Result
	if c.recorder != nil {
		voiceResults = c.recorder.Results()
	}
	ticker := time.NewTicker(levelInterval)
	defer ticker.Stop()
	defer c.shutdown()

	c.publish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return
		case ev := <-c.events:
			c.handle(ev)
			c.publish()
		case r := <-voiceResults:
			c.handleVoiceResult(r)
			c.publish()
		case <-ticker.C:
			if _, ok := c.mode.(RecordingVoice); ok {
				c.publish()
			}
		}
	}
}

func (c *Controller) Close() {
	c.once.Do(func() { close(c.quit) })
}

func (c *Controller) shutdown() {
	c.Close()
	if c.reveal != nil {
		c.reveal.Cancel()
	}
	if c.chatCancel != nil {
		c.chatCancel()
	}
	if c.recorder != nil {
		c.recorder.Cancel()
	}
	c.drainResets(resetDrainTimeout)
	log.SessionEnd(c.turns)
}

// drainResets waits up to d for background /reset requests.
func (c *Controller) drainResets(d time.Duration) {
	done := make(chan struct{})
	go func() {
		c.resets.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		log.Warnf("reset still in flight after %s, giving up", d)
	}
}

func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(fn func()) {
	done := make(chan struct{})
	select {
	case c.events <- opEvent{fn: fn, done: done}:
	case <-c.quit:
		return
	}
	select {
	case <-done:
	case <-c.quit:
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case opEvent:
		ev.fn()
		close(ev.done)
	case chatDone:
		c.handleChatDone(ev)
	case revealTick:
		if ev.seq != c.revealSeq || c.reveal == nil {
			return
		}
		if m, ok := c.mode.(Revealing); ok {
			m.Prefix = ev.prefix
			c.mode = m
		}
	case revealDone:
		if ev.seq != c.revealSeq || c.reveal == nil {
			return
		}
		c.reveal = nil
		c.mode = c.resting()
	case resetDone:
		if ev.err != nil && ev.seq == c.resetSeq {
			log.Warnf("reset failed: %v", ev.err)
			c.notice = Notice{Text: NoticeResetFailed}
		}
	}
}

func (c *Controller) publish() {
	st := c.snapshot()
	select {
	case c.updates <- st:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- st:
	default:
	}
}

// resting is Idle or Composing depending on the draft.
func (c *Controller) resting() Mode {
	if c.draft != "" {
		return Composing{}
	}
	return Idle{}
}

func (c *Controller) snapshot() State {
	msgs := c.tl.Messages()
	if m, ok := c.mode.(Revealing); ok && m.Index < len(msgs) {
		msgs[m.Index].Text = m.Prefix
	}
	st := State{
		Messages:       msgs,
		Mode:           c.mode,
		Draft:          c.draft,
		Notice:         c.notice,
		VoiceAvailable: c.voiceAvailable,
	}
	if _, ok := c.mode.(RecordingVoice); ok {
		st.Level = c.recorder.Level()
		st.Elapsed = c.recorder.Elapsed()
	}
	return st
}

// Snapshot returns the current State.
func (c *Controller) Snapshot() State {
	var st State
	c.do(func() { st = c.snapshot() })
	return st
}

// UpdateDraft replaces the compose buffer. Ignored while a request, a
// reveal or a recording is in progress.
func (c *Controller) UpdateDraft(text string) {
	c.do(func() {
		if !acceptsInput(c.mode) {
			return
		}
		c.draft = text
		if !c.notice.Blocking {
			c.notice = Notice{}
		}
		c.mode = c.resting()
	})
}

// DismissNotice clears the current notice, blocking or not.
func (c *Controller) DismissNotice() {
	c.do(func() { c.notice = Notice{} })
}

// SubmitQuestion appends the turn and asks the assistant. Empty or
// whitespace-only text, or a submit while busy, changes nothing.
func (c *Controller) SubmitQuestion(text string) {
	c.do(func() {
		question := strings.TrimSpace(text)
		if question == "" || !acceptsInput(c.mode) {
			return
		}

		_, placeholder := c.tl.AppendTurn(question)
		c.draft = ""
		c.notice = Notice{}
		c.mode = Sending{Placeholder: placeholder.Index}
		log.Debugf("submit index=%d len=%d", placeholder.Index, len(question))

		ctx, cancel := context.WithTimeout(c.runCtx, c.timeout)
		c.chatCancel = cancel
		go func() {
			defer cancel()
			answer, err := c.assistant.Ask(ctx, question)
			c.post(chatDone{question: question, placeholder: placeholder, answer: answer, err: err})
		}()
	})
}

func (c *Controller) handleChatDone(ev chatDone) {
	if ev.err != nil {
		if err := c.tl.Fail(ev.placeholder); err != nil {
			log.Debugf("dropping failure for index %d: %v", ev.placeholder.Index, err)
			return
		}
		log.Errorf("chat failed: %v", ev.err)
		log.Turn(ev.question, ev.err.Error(), "error")
		c.chatCancel = nil
		c.turns++
		c.mode = Errored{Err: ev.err}
		c.cues.Error()
		return
	}

	text := ev.answer
	if text == "" {
		text = timeline.NoResponseText
	}
	if err := c.tl.Resolve(ev.placeholder, text); err != nil {
		log.Debugf("dropping answer for index %d: %v", ev.placeholder.Index, err)
		return
	}
	log.Turn(ev.question, ev.answer, "ready")
	c.chatCancel = nil
	c.turns++

	if ev.answer == "" {
		c.mode = c.resting()
		return
	}
	c.startReveal(ev.placeholder, ev.answer)
}

func (c *Controller) startReveal(ref timeline.Ref, text string) {
	c.revealSeq++
	seq := c.revealSeq
	c.revealRef = ref
	c.mode = Revealing{Index: ref.Index}
	c.reveal = c.revealer.Start(text,
		func(prefix string) { c.post(revealTick{seq: seq, prefix: prefix}) },
		func(string) { c.post(revealDone{seq: seq}) },
	)
}

// CancelReveal stops the running reveal and keeps only the visible prefix
// as the message's text. No-op unless Revealing.
func (c *Controller) CancelReveal() {
	c.do(c.cancelReveal)
}

// cancelReveal commits the prefix last published in Revealing. Ticks the
// engine produced after it are still queued and get dropped by revealSeq.
func (c *Controller) cancelReveal() {
	m, ok := c.mode.(Revealing)
	if !ok || c.reveal == nil {
		return
	}
	c.reveal.Cancel()
	if err := c.tl.Commit(c.revealRef, m.Prefix); err != nil {
		log.Warnf("commit revealed prefix: %v", err)
	}
	c.reveal = nil
	c.revealSeq++
	c.mode = c.resting()
}

// BeginVoiceCapture starts recording. A second call while recording only
// raises a notice.
func (c *Controller) BeginVoiceCapture() {
	c.do(func() {
		if _, ok := c.mode.(RecordingVoice); ok {
			c.notice = Notice{Text: NoticeAlreadyRecording}
			return
		}
		if !acceptsInput(c.mode) {
			return
		}
		if !c.voiceAvailable {
			c.notice = Notice{Text: NoticeVoiceUnavailable}
			return
		}

		err := c.recorder.Begin(c.runCtx)
		switch {
		case err == nil:
			c.voiceAttempt = c.recorder.Attempt()
			c.notice = Notice{}
			c.mode = RecordingVoice{}
			c.cues.Start()
		case errors.Is(err, voice.ErrBusy):
			// A cancelled recording whose upload had already begun.
			c.notice = Notice{Text: NoticeStillTranscribing}
		case voice.IsKind(err, voice.PermissionDenied):
			log.Warnf("voice disabled: %v", err)
			c.voiceAvailable = false
			c.notice = Notice{Text: NoticeMicrophoneDenied, Blocking: true}
		default:
			log.Warnf("voice disabled: %v", err)
			c.voiceAvailable = false
			c.notice = Notice{Text: NoticeNoMicrophone, Blocking: true}
		}
	})
}

// StopVoiceCapture ends the recording and waits for its transcript.
func (c *Controller) StopVoiceCapture() {
	c.do(func() {
		if _, ok := c.mode.(RecordingVoice); !ok {
			return
		}
		c.recorder.Stop()
		c.mode = TranscribingAudio{}
		c.cues.Stop()
	})
}

// CancelVoiceCapture discards the recording; the draft is left as it was.
// A transcription already in flight is ignored when it arrives.
func (c *Controller) CancelVoiceCapture() {
	c.do(func() {
		switch c.mode.(type) {
		case RecordingVoice, TranscribingAudio:
		default:
			return
		}
		c.recorder.Cancel()
		c.voiceAttempt = 0
		c.mode = c.resting()
	})
}

func (c *Controller) handleVoiceResult(r voice.Result) {
	if _, ok := c.mode.(TranscribingAudio); !ok || r.Attempt != c.voiceAttempt {
		log.Debugf("dropping voice result attempt=%d", r.Attempt)
		return
	}
	c.voiceAttempt = 0

	switch {
	case errors.Is(r.Err, voice.ErrNoAudio):
		c.notice = Notice{Text: NoticeNoAudio}
	case r.Err != nil:
		c.notice = Notice{Text: NoticeTranscriptionFailed}
		c.cues.Error()
	case strings.TrimSpace(r.Transcript) == "":
		c.notice = Notice{Text: NoticeNoSpeech}
	default:
		c.draft = r.Transcript
		c.notice = Notice{}
	}
	c.mode = c.resting()
}

// ResetConversation clears the timeline at once and asks the backend to
// forget the conversation in the background.
func (c *Controller) ResetConversation() {
	c.do(func() {
		if c.reveal != nil {
			c.reveal.Cancel()
			c.reveal = nil
			c.revealSeq++
		}
		if c.chatCancel != nil {
			c.chatCancel()
			c.chatCancel = nil
		}
		switch c.mode.(type) {
		case RecordingVoice, TranscribingAudio:
			c.recorder.Cancel()
			c.voiceAttempt = 0
		}

		c.tl.Reset()
		c.mode = c.resting()
		if !c.notice.Blocking {
			c.notice = Notice{}
		}
		log.ConversationReset()

		c.resetSeq++
		seq := c.resetSeq
		// Not bound to the loop: a reset right before quit must still be sent.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.runCtx), c.timeout)
		c.resets.Add(1)
		go func() {
			defer c.resets.Done()
			defer cancel()
			c.post(resetDone{seq: seq, err: c.assistant.Reset(ctx)})
		}()
	})
}
