package notify

import (
	"context"
	"sync"
)

// Notifier receives the availability signal the engine raises at the end of
// every completed merge pass: how many newly merged records the downstream
// reader may now consume. Zero is a valid no-op signal. Failed carries
// merge-side errors down the same path, distinct from any record count.
type Notifier interface {
	Available(count int)
	Failed(err error)
}

// Nop is a Notifier that discards all signals.
type Nop struct{}

// Available implements Notifier.
func (Nop) Available(int) {}

// Failed implements Notifier.
func (Nop) Failed(error) {}

// Multi fans a signal out to several notifiers.
type Multi []Notifier

// Available implements Notifier.
func (m Multi) Available(count int) {
	for _, n := range m {
		n.Available(count)
	}
}

// Failed implements Notifier.
func (m Multi) Failed(err error) {
	for _, n := range m {
		n.Failed(err)
	}
}

// Listener is an in-process Notifier with level semantics: counts coalesce
// into a single pending total, and a waiting reader observes the latest
// level rather than a queue of edges. A reader that falls behind misses no
// records, only intermediate notifications.
type Listener struct {
	mu      sync.Mutex
	pending int
	err     error
	signal  chan struct{}
}

// NewListener creates a listener ready to receive signals.
func NewListener() *Listener {
	return &Listener{signal: make(chan struct{}, 1)}
}

// Available implements Notifier. Zero counts are accepted and ignored.
func (l *Listener) Available(count int) {
	if count <= 0 {
		return
	}
	l.mu.Lock()
	l.pending += count
	l.mu.Unlock()
	l.wake()
}

// Failed implements Notifier. The error is delivered to the next Wait,
// after any records that became available before the failure.
func (l *Listener) Failed(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
	l.wake()
}

func (l *Listener) wake() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Wait blocks until records are available or a failure was signalled, and
// returns the pending count, clearing it. Records available at the time of a
// failure are returned first; the error surfaces on the following call.
func (l *Listener) Wait(ctx context.Context) (int, error) {
	for {
		l.mu.Lock()
		if l.pending > 0 {
			n := l.pending
			l.pending = 0
			l.mu.Unlock()
			return n, nil
		}
		if l.err != nil {
			err := l.err
			l.err = nil
			l.mu.Unlock()
			return 0, err
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-l.signal:
		}
	}
}

// Pending returns the coalesced count without consuming it.
func (l *Listener) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}
