// Package readiness provides a one-time "initial session probe finished"
// broadcast that consumers can observe regardless of when they start.
package readiness

import (
	"context"
	"sync"
	"time"
)

// Signal is set exactly once. Waiters registered before it is set are released
// together; waiters arriving afterwards return immediately.
type Signal struct {
	mu        sync.Mutex
	ready     bool
	done      chan struct{}
	listeners []func()
}

// New creates an unset Signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// MarkReady sets the signal and notifies listeners. Only the first call has an
// effect; it reports whether this call was the one that set it.
func (s *Signal) MarkReady() bool {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return false
	}
	s.ready = true
	listeners := s.listeners
	s.listeners = nil
	close(s.done)
	s.mu.Unlock()

	// Run outside the lock so listeners may call back into the signal.
	for _, fn := range listeners {
		fn()
	}
	return true
}

// Ready reports whether the signal has been set.
func (s *Signal) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Done returns a channel closed once the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// OnReady registers fn to run once the signal is set. If it is already set, fn
// runs immediately on the calling goroutine.
func (s *Signal) OnReady(fn func()) {
	s.mu.Lock()
	if !s.ready {
		s.listeners = append(s.listeners, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Wait blocks until the signal is set or ctx ends. A set signal wins over a
// done ctx.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await waits at most timeout for the signal. A false result means the caller
// should carry on in degraded mode and assume an anonymous session.
func (s *Signal) Await(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Wait(ctx) == nil
}
