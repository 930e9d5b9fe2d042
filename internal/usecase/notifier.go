package usecase

import (
	"sync"
	"time"

	"wakeassist/internal/ports"
)

// notificationScheduler shows one transient message at a time. Each Notify
// bumps a generation counter; a dismiss timer only hides the popup if its
// generation is still current when it fires.
type notificationScheduler struct {
	sink ports.NotificationSink

	mu         sync.Mutex
	generation uint64
	timer      *time.Timer
	pending    *pendingNotification
	hideGuard  func() bool
}

type pendingNotification struct {
	text       string
	issuedAt   time.Time
	generation uint64
}

func newNotificationScheduler(sink ports.NotificationSink) *notificationScheduler {
	return &notificationScheduler{sink: sink}
}

// SetHideGuard installs a predicate consulted when a dismiss timer fires; a
// false result leaves the popup visible. Nil removes the guard.
func (s *notificationScheduler) SetHideGuard(guard func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hideGuard = guard
}

// Notify supersedes any pending notification, shows text, and arms a dismiss
// timer. A non-positive timeout keeps the message until the next call.
func (s *notificationScheduler) Notify(text string, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.stopTimerLocked()
	gen := s.generation
	s.pending = &pendingNotification{text: text, issuedAt: time.Now(), generation: gen}
	s.sink.Show(text)

	if timeout > 0 {
		s.timer = time.AfterFunc(timeout, func() { s.expire(gen) })
	}
}

// Hide cancels any pending dismiss timer and hides the popup. It is
// idempotent.
func (s *notificationScheduler) Hide() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.stopTimerLocked()
	s.pending = nil
	if s.sink.IsVisible() {
		s.sink.Hide()
	}
}

// Pending returns the text of the live notification, if any.
func (s *notificationScheduler) Pending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return "", false
	}
	return s.pending.text, true
}

// liveTimers reports how many dismiss timers are armed (0 or 1).
func (s *notificationScheduler) liveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return 0
	}
	return 1
}

func (s *notificationScheduler) expire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return
	}
	s.timer = nil
	if s.hideGuard != nil && !s.hideGuard() {
		return
	}
	s.pending = nil
	s.sink.Hide()
}

func (s *notificationScheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
