package controller

import "fmt"

// Mode is the single authoritative state of the turn. Exactly one of the
// types below.
type Mode interface {
	isMode()
	String() string
}

type Idle struct{}

// Composing means the draft is non-empty and nothing is in flight.
type Composing struct{}

// Sending waits on /chat for the placeholder at timeline index Placeholder.
type Sending struct {
	Placeholder int
}

// Revealing animates the assistant message at Index; Prefix is what is
// visible so far.
type Revealing struct {
	Index  int
	Prefix string
}

type RecordingVoice struct{}

type TranscribingAudio struct{}

// Errored follows a failed /chat. The failed message stays in the timeline;
// the next input leaves this mode.
type Errored struct {
	Err error
}

func (Idle) isMode()              {}
func (Composing) isMode()         {}
func (Sending) isMode()           {}
func (Revealing) isMode()         {}
func (RecordingVoice) isMode()    {}
func (TranscribingAudio) isMode() {}
func (Errored) isMode()           {}

func (Idle) String() string              { return "idle" }
func (Composing) String() string         { return "composing" }
func (m Sending) String() string         { return fmt.Sprintf("sending(%d)", m.Placeholder) }
func (m Revealing) String() string       { return fmt.Sprintf("revealing(%d,%d)", m.Index, len([]rune(m.Prefix))) }
func (RecordingVoice) String() string    { return "recording" }
func (TranscribingAudio) String() string { return "transcribing" }
func (m Errored) String() string         { return fmt.Sprintf("error(%v)", m.Err) }

// acceptsInput reports whether a new question, draft edit or recording may
// start from m.
func acceptsInput(m Mode) bool {
	switch m.(type) {
	case Idle, Composing, Errored:
		return true
	}
	return false
}
