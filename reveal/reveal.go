// Package reveal discloses an already-known text one character at a time,
// the way a typewriter would, with support for cutting the reveal short.
package reveal

import (
	"sync"
	"time"
)

// DefaultInterval is the time between two successive prefixes.
const DefaultInterval = 20 * time.Millisecond

// TickScheduler calls fn every interval until stop is called. Calls to fn
// already in flight when stop returns may still complete.
type TickScheduler interface {
	Schedule(interval time.Duration, fn func()) (stop func())
}

type Engine struct {
	sched    TickScheduler
	interval time.Duration
}

func New(sched TickScheduler, interval time.Duration) *Engine {
	if sched == nil {
		sched = Ticker{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{sched: sched, interval: interval}
}

func (e *Engine) Interval() time.Duration { return e.interval }

// Start begins revealing fullText. onTick receives every new prefix and
// onDone receives the full text once the last character is out. Either
// callback may be nil. Callbacks run on the scheduler's goroutine and must
// not call back into the Handle.
//
// An empty fullText yields an inert handle: nothing is emitted and onDone
// never fires.
func (e *Engine) Start(fullText string, onTick func(prefix string), onDone func(full string)) *Handle {
	h := &Handle{
		runes:  []rune(fullText),
		onTick: onTick,
		onDone: onDone,
	}
	if len(h.runes) == 0 {
		h.finished = true
		return h
	}

	h.mu.Lock()
	h.stop = e.sched.Schedule(e.interval, h.tick)
	h.mu.Unlock()
	return h
}

// Handle controls one running reveal.
type Handle struct {
	mu        sync.Mutex
	runes     []rune
	n         int
	finished  bool
	cancelled bool
	stop      func()

	onTick func(string)
	onDone func(string)
}

func (h *Handle) tick() {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.n++
	prefix := string(h.runes[:h.n])
	complete := h.n == len(h.runes)
	var stop func()
	if complete {
		h.finished = true
		stop = h.stop
	}
	h.mu.Unlock()

	if h.onTick != nil {
		h.onTick(prefix)
	}
	if complete {
		if stop != nil {
			stop()
		}
		if h.onDone != nil {
			h.onDone(string(h.runes))
		}
	}
}

// Cancel stops the reveal and returns the prefix emitted so far. Calling it
// again, or after the reveal completed, returns the last known prefix.
func (h *Handle) Cancel() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.finished {
		h.finished = true
		h.cancelled = true
		if h.stop != nil {
			h.stop()
		}
	}
	return string(h.runes[:h.n])
}

func (h *Handle) Prefix() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.runes[:h.n])
}

// Done reports whether the reveal has ended, naturally or by Cancel.
func (h *Handle) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished
}

func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}
