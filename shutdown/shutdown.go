// Package shutdown relays the signals that should end a chat session.
package shutdown

import (
	"os"
	"os/signal"
)

// Notify relays interrupt and termination signals to ch.
func Notify(ch chan<- os.Signal) {
	signal.Notify(ch, signals...)
}

// Stop undoes Notify for ch.
func Stop(ch chan<- os.Signal) {
	signal.Stop(ch)
}
