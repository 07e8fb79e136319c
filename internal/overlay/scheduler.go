package overlay

import (
	"sync"
	"time"
)

// FrameHandle identifies a scheduled frame callback.
type FrameHandle uint64

// FrameScheduler requests callbacks on the next display refresh, in the manner
// of a browser's animation-frame API.
type FrameScheduler interface {
	RequestFrame(fn func()) FrameHandle
	CancelFrame(h FrameHandle)
}

// DefaultRefreshInterval approximates a 60 Hz display.
const DefaultRefreshInterval = 16 * time.Millisecond

// TimerScheduler fires each callback once after a fixed refresh interval.
type TimerScheduler struct {
	interval time.Duration

	mu     sync.Mutex
	next   FrameHandle
	timers map[FrameHandle]*time.Timer
}

// NewTimerScheduler returns a scheduler with the given refresh interval.
func NewTimerScheduler(interval time.Duration) *TimerScheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &TimerScheduler{
		interval: interval,
		timers:   make(map[FrameHandle]*time.Timer),
	}
}

// RequestFrame schedules fn for the next refresh.
func (s *TimerScheduler) RequestFrame(fn func()) FrameHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	h := s.next
	s.timers[h] = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		delete(s.timers, h)
		s.mu.Unlock()
		fn()
	})
	return h
}

// CancelFrame stops a pending callback. Unknown handles are ignored.
func (s *TimerScheduler) CancelFrame(h FrameHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[h]; ok {
		t.Stop()
		delete(s.timers, h)
	}
}

// Pending returns the number of callbacks waiting to fire.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// ManualScheduler holds callbacks until Fire is called. It drives the renderer
// from an external frame clock.
type ManualScheduler struct {
	mu      sync.Mutex
	next    FrameHandle
	pending map[FrameHandle]func()
	order   []FrameHandle
}

// NewManualScheduler returns an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{pending: make(map[FrameHandle]func())}
}

// RequestFrame queues fn until the next Fire.
func (s *ManualScheduler) RequestFrame(fn func()) FrameHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.pending[s.next] = fn
	s.order = append(s.order, s.next)
	return s.next
}

// CancelFrame drops a queued callback.
func (s *ManualScheduler) CancelFrame(h FrameHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
}

// Pending returns the number of queued callbacks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Fire runs every callback queued before the call and returns how many ran.
// Callbacks requested while firing wait for the next Fire.
func (s *ManualScheduler) Fire() int {
	s.mu.Lock()
	order := s.order
	s.order = nil
	var due []func()
	for _, h := range order {
		if fn, ok := s.pending[h]; ok {
			due = append(due, fn)
			delete(s.pending, h)
		}
	}
	s.mu.Unlock()

	for _, fn := range due {
		fn()
	}
	return len(due)
}
