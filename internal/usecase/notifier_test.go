package usecase

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNotificationSchedulerSupersedesTimers(t *testing.T) {
	t.Parallel()

	sink := &fakeNotificationSink{}
	s := newNotificationScheduler(sink)

	for _, text := range []string{"一", "二", "三", "四", "五"} {
		s.Notify(text, 20*time.Millisecond)
	}
	if got := s.liveTimers(); got != 1 {
		t.Fatalf("expected one live timer, got %d", got)
	}
	if text, ok := s.Pending(); !ok || text != "五" {
		t.Fatalf("expected latest notification pending, got %q %v", text, ok)
	}

	waitFor(t, func() bool { return sink.hideCount() == 1 })
	time.Sleep(60 * time.Millisecond)

	if got := sink.hideCount(); got != 1 {
		t.Fatalf("expected exactly one hide, got %d", got)
	}
	if got := len(sink.snapshotShown()); got != 5 {
		t.Fatalf("expected 5 shows, got %d", got)
	}
	if s.liveTimers() != 0 {
		t.Fatalf("expired timer still tracked")
	}
}

func TestNotificationSchedulerStaleTimerDoesNotHideNewMessage(t *testing.T) {
	t.Parallel()

	sink := &fakeNotificationSink{}
	s := newNotificationScheduler(sink)

	s.Notify("旧消息", 10*time.Millisecond)
	s.Notify("新消息", time.Hour)
	time.Sleep(40 * time.Millisecond)

	if !sink.isVisibleNow() {
		t.Fatalf("stale timer hid the new message")
	}
	s.Hide()
}

func TestNotificationSchedulerHideIsIdempotent(t *testing.T) {
	t.Parallel()

	sink := &fakeNotificationSink{}
	s := newNotificationScheduler(sink)

	s.Hide()
	if sink.hideCount() != 0 {
		t.Fatalf("hide on an invisible popup must not reach the sink")
	}

	s.Notify("你好", time.Hour)
	s.Hide()
	s.Hide()
	if got := sink.hideCount(); got != 1 {
		t.Fatalf("expected one hide, got %d", got)
	}
	if s.liveTimers() != 0 {
		t.Fatalf("hide must cancel the timer")
	}
	if _, ok := s.Pending(); ok {
		t.Fatalf("hide must clear the pending notification")
	}
}

func TestNotificationSchedulerWithoutTimeoutStaysVisible(t *testing.T) {
	t.Parallel()

	sink := &fakeNotificationSink{}
	s := newNotificationScheduler(sink)

	s.Notify("常驻", 0)
	if s.liveTimers() != 0 {
		t.Fatalf("no timer expected for a non-positive timeout")
	}
	if !sink.isVisibleNow() {
		t.Fatalf("expected visible popup")
	}
}

func TestNotificationSchedulerHideGuard(t *testing.T) {
	t.Parallel()

	sink := &fakeNotificationSink{}
	s := newNotificationScheduler(sink)
	var busy atomic.Bool
	busy.Store(true)
	s.SetHideGuard(func() bool { return !busy.Load() })

	s.Notify("处理中", 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if !sink.isVisibleNow() {
		t.Fatalf("guard should keep the popup visible while busy")
	}

	busy.Store(false)
	s.Notify("完成", 5*time.Millisecond)
	waitFor(t, func() bool { return !sink.isVisibleNow() })
}
