// Package lifecycle holds the cooperative shutdown signal shared by the enqueue engine,
// the consumer loops and the correlators.
package lifecycle

import (
	"sync"
	"sync/atomic"
)

// Flag is a one-way shutdown switch. It is checked at loop-iteration and retry-iteration
// boundaries; it never interrupts an in-flight put or poll.
type Flag struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewFlag returns an unset flag.
func NewFlag() *Flag { return &Flag{done: make(chan struct{})} }

// Trigger sets the flag. Calling it more than once is harmless.
func (f *Flag) Trigger() {
	f.once.Do(func() {
		f.set.Store(true)
		close(f.done)
	})
}

// Triggered reports whether Trigger was called. A nil flag is never triggered.
func (f *Flag) Triggered() bool { return f != nil && f.set.Load() }

// Done is closed once the flag is triggered. A nil flag returns a nil channel, which
// blocks forever in a select.
func (f *Flag) Done() <-chan struct{} {
	if f == nil {
		return nil
	}

	return f.done
}
