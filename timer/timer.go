// Package timer provides the shared one-shot timer facility used by the
// scheduling core. Every timer resolves by invoking a callback that posts a
// message into the owning scheduler's mailbox — never by mutating scheduler
// state from the timer goroutine.
//
// Each timer owns its own cancel Handle. Closing the Service cancels every
// outstanding handle, so shutdown cannot leak armed timers.
package timer

import "time"
import "sync"

// Service schedules one-shot callbacks and tracks their handles.
type Service struct {
	mu      sync.Mutex
	handles map[uint64]*Handle
	nextID  uint64
	closed  bool
}

// NewService creates a timer Service.
func NewService() *Service {
	return &Service{handles: make(map[uint64]*Handle)}
}

// After arms a one-shot timer. When it fires, fn runs on a timer goroutine;
// fn must confine itself to posting a message. Returns nil when the service
// is already closed.
func (s *Service) After(d time.Duration, fn func()) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.nextID++
	h := &Handle{id: s.nextID, svc: s}
	h.t = time.AfterFunc(d, func() {
		s.forget(h.id)
		fn()
	})
	s.handles[h.id] = h
	return h
}

// Outstanding returns the number of armed timers.
func (s *Service) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Close cancels every outstanding timer. Further After calls return nil.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[uint64]*Handle)
	s.mu.Unlock()

	for _, h := range handles {
		h.t.Stop()
	}
}

func (s *Service) forget(handleID uint64) {
	s.mu.Lock()
	delete(s.handles, handleID)
	s.mu.Unlock()
}

// Handle is the cancel handle of one armed timer.
type Handle struct {
	id  uint64
	t   *time.Timer
	svc *Service
}

// Stop cancels the timer. Returns false when the timer already fired or
// was stopped. Stopping a fired timer is a no-op, so callers may Stop
// unconditionally on cleanup.
func (h *Handle) Stop() bool {
	if h == nil {
		return false
	}
	h.svc.forget(h.id)
	return h.t.Stop()
}
