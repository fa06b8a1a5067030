package asyncnet

import (
	"sync"
	"sync/atomic"
)

// shutdownSignal is a one-shot, process-wide-for-this-endpoint
// cancellation signal (spec.md §4.I). It is consulted by every
// continuation before issuing the next OS call and, once set, stays
// set for the lifetime of the endpoint. Grounded on xtaci/smux's
// Session.die/dieOnce shutdown channel, widened with an atomic.Bool
// fast path so hot-path continuations don't pay a channel-select on
// every iteration.
type shutdownSignal struct {
	flag atomic.Bool
	done chan struct{}
	once func()
}

func newShutdownSignal() *shutdownSignal {
	s := &shutdownSignal{done: make(chan struct{})}
	s.once = sync.OnceFunc(func() {
		s.flag.Store(true)
		close(s.done)
	})
	return s
}

// Trigger sets the signal. Safe to call more than once; only the first
// call has an effect.
func (s *shutdownSignal) Trigger() { s.once() }

// IsSet reports whether Trigger has been called.
func (s *shutdownSignal) IsSet() bool { return s.flag.Load() }

// Done returns a channel that is closed once Trigger has been called,
// for use in select statements alongside a blocking I/O goroutine's
// completion channel.
func (s *shutdownSignal) Done() <-chan struct{} { return s.done }
