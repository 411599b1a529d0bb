package confirm

import "sync"

// PauseSignal coordinates exclusive access to stdout between a terminal-UI
// animator (which otherwise redraws continuously) and a requester that
// needs a clean, unshared terminal for the duration of a confirmation
// prompt or similar interactive I/O.
//
// Protocol: the requester calls RequestPause then WaitPaused, does its I/O,
// then calls Resume. The animator's redraw loop calls ShouldPause before
// every write; once it observes a pause request it calls Paused and blocks
// there instead of writing, until Resume or Teardown runs. No teacher
// precedent exists for this handshake; it is modeled directly on the three
// properties it must satisfy:
//
//	(a) the animator never writes to stdout after observing a pause request
//	(b) the requester never proceeds before observing the animator has paused
//	(c) teardown clears both flags unconditionally and releases all waiters
type PauseSignal struct {
	mu     sync.Mutex
	cond   *sync.Cond
	pause  bool
	paused bool
	down   bool
}

// NewPauseSignal returns a signal in the unpaused, unrequested state.
func NewPauseSignal() *PauseSignal {
	s := &PauseSignal{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// RequestPause sets the pause flag, asking the animator to stop writing.
func (s *PauseSignal) RequestPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pause = true
	s.cond.Broadcast()
}

// WaitPaused blocks until the animator has acknowledged the pause request
// via Paused, or until Teardown runs.
func (s *PauseSignal) WaitPaused() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.paused && !s.down {
		s.cond.Wait()
	}
}

// Resume clears the pause request and wakes the animator's Paused call.
func (s *PauseSignal) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pause = false
	s.paused = false
	s.cond.Broadcast()
}

// ShouldPause reports whether a pause has been requested. The animator must
// check this before every stdout write and, if true, call Paused instead of
// writing.
func (s *PauseSignal) ShouldPause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pause
}

// Paused marks the animator as parked and blocks until Resume or Teardown
// runs.
func (s *PauseSignal) Paused() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.cond.Broadcast()
	for s.pause && !s.down {
		s.cond.Wait()
	}
	s.paused = false
}

// Teardown unconditionally clears both flags and releases anyone blocked in
// WaitPaused or Paused, per property (c). The signal is unusable afterward.
func (s *PauseSignal) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = true
	s.pause = false
	s.paused = false
	s.cond.Broadcast()
}
