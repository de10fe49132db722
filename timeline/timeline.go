// Package timeline holds the ordered log of conversation turns.
//
// A Timeline is owned by a single writer. It is not safe for concurrent use.
package timeline

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// FailureText replaces a placeholder whose request failed.
const FailureText = "Error: Could not connect."

// NoResponseText stands in for an empty answer.
const NoResponseText = "No response."

// ErrStaleResolution is returned when a Ref no longer addresses the
// placeholder it was issued for, typically because Reset ran in between.
var ErrStaleResolution = errors.New("stale timeline reference")

type Sender int

const (
	User Sender = iota
	Assistant
)

func (s Sender) String() string {
	switch s {
	case User:
		return "You"
	case Assistant:
		return "Chikitsa"
	default:
		return "unknown"
	}
}

type Status int

const (
	Pending Status = iota
	Ready
	Error
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

type Message struct {
	ID        string
	Sender    Sender
	Text      string
	Status    Status
	CreatedAt time.Time
}

// Ref addresses one message. It becomes stale after Reset.
type Ref struct {
	Index int
	epoch uint64
}

type Timeline struct {
	msgs  []Message
	epoch uint64
}

func New() *Timeline {
	return &Timeline{}
}

// AppendTurn appends the user's question and a Pending assistant
// placeholder as one step and returns a Ref to each.
func (t *Timeline) AppendTurn(userText string) (question, placeholder Ref) {
	now := time.Now()
	t.msgs = append(t.msgs,
		Message{ID: uuid.NewString(), Sender: User, Text: userText, Status: Ready, CreatedAt: now},
		Message{ID: uuid.NewString(), Sender: Assistant, Status: Pending, CreatedAt: now},
	)
	n := len(t.msgs)
	return Ref{Index: n - 2, epoch: t.epoch}, Ref{Index: n - 1, epoch: t.epoch}
}

// Resolve moves the placeholder at ref from Pending to Ready with text.
func (t *Timeline) Resolve(ref Ref, text string) error {
	m, err := t.pending(ref)
	if err != nil {
		return err
	}
	m.Text = text
	m.Status = Ready
	return nil
}

// Fail moves the placeholder at ref from Pending to Error.
func (t *Timeline) Fail(ref Ref) error {
	m, err := t.pending(ref)
	if err != nil {
		return err
	}
	m.Text = FailureText
	m.Status = Error
	return nil
}

// Commit overwrites the text of a Ready assistant message. Used to make
// a cancelled reveal's partial text the permanent record.
func (t *Timeline) Commit(ref Ref, text string) error {
	m, err := t.lookup(ref)
	if err != nil {
		return err
	}
	if m.Sender != Assistant || m.Status != Ready {
		return ErrStaleResolution
	}
	m.Text = text
	return nil
}

// Reset drops every message. Refs issued before the call become stale.
func (t *Timeline) Reset() {
	t.msgs = nil
	t.epoch++
}

func (t *Timeline) Len() int { return len(t.msgs) }

func (t *Timeline) At(i int) (Message, bool) {
	if i < 0 || i >= len(t.msgs) {
		return Message{}, false
	}
	return t.msgs[i], true
}

// Messages returns a copy of the log in append order.
func (t *Timeline) Messages() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// LastAssistant returns the index of the most recent assistant message,
// or -1 if there is none.
func (t *Timeline) LastAssistant() int {
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].Sender == Assistant {
			return i
		}
	}
	return -1
}

func (t *Timeline) lookup(ref Ref) (*Message, error) {
	if ref.epoch != t.epoch || ref.Index < 0 || ref.Index >= len(t.msgs) {
		return nil, ErrStaleResolution
	}
	return &t.msgs[ref.Index], nil
}

func (t *Timeline) pending(ref Ref) (*Message, error) {
	m, err := t.lookup(ref)
	if err != nil {
		return nil, err
	}
	if m.Sender != Assistant || m.Status != Pending {
		return nil, ErrStaleResolution
	}
	return m, nil
}
