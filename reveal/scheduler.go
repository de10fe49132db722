package reveal

import (
	"sort"
	"sync"
	"time"
)

// Ticker is the wall-clock TickScheduler.
type Ticker struct{}

func (Ticker) Schedule(interval time.Duration, fn func()) func() {
	t := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				fn()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// ManualScheduler fires scheduled functions only when Tick is called.
// Used by tests to step a reveal without wall-clock time.
type ManualScheduler struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{fns: make(map[int]func())}
}

func (m *ManualScheduler) Schedule(_ time.Duration, fn func()) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.fns[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.fns, id)
		m.mu.Unlock()
	}
}

// Tick fires every live function once, oldest first.
func (m *ManualScheduler) Tick() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.fns))
	for id := range m.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.fns[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// TickN calls Tick n times.
func (m *ManualScheduler) TickN(n int) {
	for range n {
		m.Tick()
	}
}

// Active returns how many functions are still scheduled.
func (m *ManualScheduler) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fns)
}
