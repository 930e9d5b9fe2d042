package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"wakeassist/internal/domain"
	"wakeassist/internal/vocab"
)

var testEpoch = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

type loopHarness struct {
	loop     *pollingLoop
	provider *fakeRecognizer
	sink     *fakeNotificationSink
	events   *fakeEventSink
	logger   *fakeLogger
	now      time.Time
}

func newLoopHarness(t *testing.T, cfg Config) *loopHarness {
	t.Helper()
	h := &loopHarness{
		provider: newFakeRecognizer(),
		sink:     &fakeNotificationSink{},
		events:   &fakeEventSink{},
		logger:   &fakeLogger{},
		now:      testEpoch,
	}
	h.loop = newPollingLoop(cfg.withDefaults(), h.provider, h.sink, h.events, h.logger, nil, func() time.Time { return h.now })
	if err := h.loop.start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { h.loop.shutdown(context.Background()) })
	return h
}

// step advances the synthetic clock by d and runs one tick.
func (h *loopHarness) step(d time.Duration) {
	h.now = h.now.Add(d)
	h.loop.tick(context.Background(), h.now)
}

func (h *loopHarness) toCommandListening(t *testing.T) {
	t.Helper()
	h.provider.setWakeup(domain.WakeupDetected)
	h.step(100 * time.Millisecond)
	if h.loop.state != domain.StateCommandListening {
		t.Fatalf("expected command listening, got %s", h.loop.state)
	}
}

func (h *loopHarness) transitionsTo(state domain.AssistantState) []stateEvent {
	var out []stateEvent
	for _, s := range h.events.snapshotStates() {
		if s.state == state {
			out = append(out, s)
		}
	}
	return out
}

func TestWakeupDetectedEntersCommandListening(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{})
	h.provider.wakeupInfo = `{"keyword":"小爱同学"}`
	h.toCommandListening(t)

	listening := h.transitionsTo(domain.StateCommandListening)
	if len(listening) != 1 || listening[0].reason != domain.ReasonWakeupDetected {
		t.Fatalf("expected one wakeup transition, got %+v", listening)
	}
	shown := h.sink.snapshotShown()
	if len(shown) != 1 || shown[0] != DefaultWakeupAckText {
		t.Fatalf("expected one acknowledgement popup, got %q", shown)
	}
	if got := h.provider.callCount("ResetWakeupStatus"); got != 1 {
		t.Fatalf("expected wakeup reset once, got %d", got)
	}
	if got := h.provider.callCount("StartCommandCapture"); got != 1 {
		t.Fatalf("expected command capture started once, got %d", got)
	}
	if !h.logger.contains("info", "小爱同学") {
		t.Fatalf("expected wakeup info to be logged")
	}

	h.step(100 * time.Millisecond)
	if got := h.provider.callCount("ResetWakeupStatus"); got != 1 {
		t.Fatalf("wakeup reset repeated on later tick: %d", got)
	}
}

func TestRepeatedCommandTextDispatchedOnce(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{})
	h.toCommandListening(t)

	h.provider.setChannel(domain.ChannelPgs, "pgs: 暂停播放")
	for i := 0; i < 5; i++ {
		h.step(100 * time.Millisecond)
	}

	commands := h.events.snapshotCommands()
	if len(commands) != 1 {
		t.Fatalf("expected exactly one command event, got %+v", commands)
	}
	if commands[0].text != "暂停播放" || !commands[0].success {
		t.Fatalf("unexpected command event: %+v", commands[0])
	}
	processing := h.transitionsTo(domain.StateProcessing)
	if len(processing) != 1 || processing[0].reason != domain.ReasonCommandMatched {
		t.Fatalf("expected one processing transition, got %+v", processing)
	}
	shown := h.sink.snapshotShown()
	if shown[len(shown)-1] != "命令: 暂停播放" {
		t.Fatalf("unexpected reply popup: %q", shown[len(shown)-1])
	}
}

func TestSameCommandHandledOnEachTurn(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{NotificationTimeout: 2 * time.Second})
	for turn := 1; turn <= 2; turn++ {
		h.toCommandListening(t)
		h.provider.setChannel(domain.ChannelPgs, "pgs: 提高音量")
		if turn == 2 {
			h.provider.setEsr(domain.EsrSuccess)
		}
		h.step(100 * time.Millisecond)
		if h.loop.state != domain.StateProcessing {
			t.Fatalf("turn %d: expected processing, got %s", turn, h.loop.state)
		}
		h.step(2 * time.Second)
		if h.loop.state != domain.StateWakeupListening {
			t.Fatalf("turn %d: expected wakeup listening after dwell, got %s", turn, h.loop.state)
		}
	}

	commands := h.events.snapshotCommands()
	if len(commands) != 2 {
		t.Fatalf("expected one command event per turn, got %+v", commands)
	}
	for _, c := range commands {
		if c.text != "提高音量" || !c.success {
			t.Fatalf("unexpected command event: %+v", c)
		}
	}
}

func TestPreviousTurnTextNotDispatchedAgain(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{})
	h.toCommandListening(t)
	h.provider.setChannel(domain.ChannelPgs, "pgs: 暂停播放")
	h.step(100 * time.Millisecond)
	h.step(5 * time.Second)

	// The command capture start clears the previous turn's buffers.
	h.toCommandListening(t)
	for i := 0; i < 3; i++ {
		h.step(100 * time.Millisecond)
	}
	if got := len(h.events.snapshotCommands()); got != 1 {
		t.Fatalf("previous turn's text dispatched again: %d events", got)
	}
	if h.loop.state != domain.StateCommandListening {
		t.Fatalf("expected command listening, got %s", h.loop.state)
	}
}

func TestCommandTimeoutReturnsToWakeupListening(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{CommandTimeout: 2 * time.Second})
	h.toCommandListening(t)

	h.provider.setChannel(domain.ChannelPgs, "pgs: 今天天气怎么样")
	h.step(1 * time.Second)
	if h.loop.state != domain.StateCommandListening {
		t.Fatalf("timed out too early")
	}
	h.step(1 * time.Second)

	if h.loop.state != domain.StateWakeupListening {
		t.Fatalf("expected wakeup listening, got %s", h.loop.state)
	}
	back := h.transitionsTo(domain.StateWakeupListening)
	if back[len(back)-1].reason != domain.ReasonCommandTimeout {
		t.Fatalf("unexpected reason: %s", back[len(back)-1].reason)
	}
	if len(h.events.snapshotCommands()) != 0 {
		t.Fatalf("no command event expected on timeout")
	}
	if h.sink.isVisibleNow() {
		t.Fatalf("popup should be hidden after giving up")
	}
}

func TestConsecutiveReadFailuresForceRecovery(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		prepare func(*testing.T, *loopHarness)
		panics  bool
	}{
		{name: "from wakeup listening", prepare: func(*testing.T, *loopHarness) {}},
		{name: "from command listening", prepare: func(t *testing.T, h *loopHarness) { h.toCommandListening(t) }},
		{name: "provider panics", prepare: func(t *testing.T, h *loopHarness) { h.toCommandListening(t) }, panics: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newLoopHarness(t, Config{})
			tc.prepare(t, h)
			before := len(h.events.snapshotStates())

			h.provider.mu.Lock()
			h.provider.readErr = errors.New("device read failed")
			h.provider.panicOnRead = tc.panics
			h.provider.mu.Unlock()

			h.step(100 * time.Millisecond)
			h.step(100 * time.Millisecond)
			if len(h.events.snapshotStates()) != before {
				t.Fatalf("transition before threshold")
			}
			h.step(100 * time.Millisecond)

			states := h.events.snapshotStates()
			if len(states) != before+1 {
				t.Fatalf("expected one recovery transition, got %+v", states[before:])
			}
			if states[before].state != domain.StateWakeupListening || states[before].reason != domain.ReasonFailureRecovery {
				t.Fatalf("unexpected recovery transition: %+v", states[before])
			}
			if !h.logger.contains("warn", "consecutive provider failures") {
				t.Fatalf("expected escalation warning: %+v", h.logger.snapshot())
			}
			errs := h.events.snapshotErrors()
			if len(errs) != 2 || errs[0].code != domain.ErrorCodeTransientRead || errs[1].code != domain.ErrorCodeFailureEscalation {
				t.Fatalf("expected transient_read then escalation, got %+v", errs)
			}
		})
	}
}

func TestReadFailureDoesNotCorruptCache(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{})
	h.toCommandListening(t)

	h.provider.setChannel(domain.ChannelPgs, "pgs: 你好")
	h.step(100 * time.Millisecond)
	h.provider.setReadErr(errors.New("busy"))
	h.step(100 * time.Millisecond)
	h.provider.setReadErr(nil)
	h.step(100 * time.Millisecond)

	if got := h.loop.dedup.Last(domain.ChannelPgs); got != "pgs: 你好" {
		t.Fatalf("cache changed by failed read: %q", got)
	}
	if h.loop.failures != 0 {
		t.Fatalf("failure counter should reset after a good read")
	}
}

func TestTransientReadReportedOncePerStreak(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{FailureThreshold: 5})
	transient := func() int {
		n := 0
		for _, e := range h.events.snapshotErrors() {
			if e.code == domain.ErrorCodeTransientRead {
				n++
			}
		}
		return n
	}

	h.provider.setReadErr(errors.New("busy"))
	h.step(100 * time.Millisecond)
	h.step(100 * time.Millisecond)
	h.step(100 * time.Millisecond)
	if got := transient(); got != 1 {
		t.Fatalf("expected one transient_read per streak, got %d", got)
	}
	if errs := h.events.snapshotErrors(); errs[0].detail != "wakeup status: busy" {
		t.Fatalf("unexpected detail: %+v", errs[0])
	}

	h.provider.setReadErr(nil)
	h.step(100 * time.Millisecond)
	h.provider.setReadErr(errors.New("busy"))
	h.step(100 * time.Millisecond)
	if got := transient(); got != 2 {
		t.Fatalf("expected a new streak to report again, got %d", got)
	}
	if h.loop.state != domain.StateWakeupListening {
		t.Fatalf("below threshold must not transition, got %s", h.loop.state)
	}
}

func TestSimultaneousChannelsProduceSingleTransition(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{})
	h.toCommandListening(t)
	before := len(h.events.snapshotStates())

	h.provider.setChannel(domain.ChannelPlain, "plain: 播放下一首")
	h.provider.setChannel(domain.ChannelPgs, "pgs: 暂停播放")
	h.provider.setChannel(domain.ChannelReadable, "readable: 提高音量")
	h.provider.setEsr(domain.EsrSuccess)
	h.step(100 * time.Millisecond)

	states := h.events.snapshotStates()
	if len(states) != before+1 {
		t.Fatalf("expected one transition, got %+v", states[before:])
	}
	commands := h.events.snapshotCommands()
	if len(commands) != 1 || commands[0].text != "暂停播放" {
		t.Fatalf("expected pgs command to win, got %+v", commands)
	}
}

func TestTokenChannelsDoNotMatchCommands(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{})
	h.toCommandListening(t)

	h.provider.setChannel(domain.ChannelHtk, "htk: 暂停播放")
	h.provider.setChannel(domain.ChannelVad, "vad: 暂停播放")
	h.step(100 * time.Millisecond)
	if h.loop.state != domain.StateCommandListening {
		t.Fatalf("htk/vad text must not trigger a command, got %s", h.loop.state)
	}
	if len(h.events.snapshotCommands()) != 0 {
		t.Fatalf("unexpected command events: %+v", h.events.snapshotCommands())
	}

	h.provider.setChannel(domain.ChannelReadable, "readable: 暂停播放")
	h.step(100 * time.Millisecond)
	commands := h.events.snapshotCommands()
	if len(commands) != 1 || commands[0].text != "暂停播放" {
		t.Fatalf("expected readable channel to match, got %+v", commands)
	}
}

func TestEsrSuccessUsesLatestUtterance(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{})
	h.toCommandListening(t)

	h.provider.setChannel(domain.ChannelPlain, "plain: 打开设置")
	h.step(100 * time.Millisecond)
	if h.loop.state != domain.StateCommandListening {
		t.Fatalf("free text must not match the vocabulary")
	}

	h.provider.setEsr(domain.EsrSuccess)
	h.step(100 * time.Millisecond)

	processing := h.transitionsTo(domain.StateProcessing)
	if len(processing) != 1 || processing[0].reason != domain.ReasonEsrSuccess {
		t.Fatalf("expected esr transition, got %+v", processing)
	}
	commands := h.events.snapshotCommands()
	if len(commands) != 1 || commands[0].text != "打开设置" || !commands[0].success {
		t.Fatalf("unexpected command event: %+v", commands)
	}
	if h.provider.callCount("ResetEsrStatus") != 1 {
		t.Fatalf("expected esr status reset")
	}
	shown := h.sink.snapshotShown()
	if shown[len(shown)-1] != "正在打开设置..." {
		t.Fatalf("unexpected reply: %q", shown[len(shown)-1])
	}
}

func TestUnknownEsrTextUsesFailureDwell(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{NotificationTimeout: 5 * time.Second, FailureNotificationTimeout: time.Second})
	h.toCommandListening(t)

	h.provider.setChannel(domain.ChannelPgs, "pgs: 嗯嗯")
	h.provider.setEsr(domain.EsrSuccess)
	h.step(100 * time.Millisecond)

	commands := h.events.snapshotCommands()
	if len(commands) != 1 || commands[0].success {
		t.Fatalf("expected one failed command, got %+v", commands)
	}
	shown := h.sink.snapshotShown()
	if shown[len(shown)-1] != replyNotUnderstood {
		t.Fatalf("unexpected reply: %q", shown[len(shown)-1])
	}

	h.step(time.Second)
	if h.loop.state != domain.StateWakeupListening {
		t.Fatalf("expected short dwell for failures, got %s", h.loop.state)
	}
}

func TestStartCaptureFailureRetriesAfterBackoff(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{RetryBackoff: time.Second, CommandTimeout: 10 * time.Second})
	h.provider.mu.Lock()
	h.provider.startCommandErrs = 1
	h.provider.mu.Unlock()
	h.toCommandListening(t)

	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %+v", errs)
	}

	h.step(500 * time.Millisecond)
	if got := h.provider.callCount("StartCommandCapture"); got != 1 {
		t.Fatalf("retried before backoff: %d", got)
	}
	if got := h.provider.callCount("EsrStatus"); got != 0 {
		t.Fatalf("provider polled while capture is down: %d", got)
	}

	h.step(500 * time.Millisecond)
	if got := h.provider.callCount("StartCommandCapture"); got != 2 {
		t.Fatalf("expected retry after backoff, got %d", got)
	}
	if h.loop.entryPending {
		t.Fatalf("retry succeeded but entry still pending")
	}
}

func TestCommandTimeoutFiresWhileRetryPending(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{RetryBackoff: 10 * time.Second, CommandTimeout: time.Second})
	h.provider.mu.Lock()
	h.provider.startCommandErrs = 5
	h.provider.mu.Unlock()
	h.toCommandListening(t)

	h.step(time.Second)
	if h.loop.state != domain.StateWakeupListening {
		t.Fatalf("expected timeout while retry pending, got %s", h.loop.state)
	}
}

func TestLivePreviewShowsPartialText(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{LivePreview: true})
	h.toCommandListening(t)

	h.provider.setChannel(domain.ChannelPgs, "pgs: 我想\npgs: 我想听")
	h.step(100 * time.Millisecond)

	shown := h.sink.snapshotShown()
	if shown[len(shown)-1] != "我想听" {
		t.Fatalf("expected preview of last line, got %q", shown)
	}
}

func TestMergedResultLogging(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{MergeResultLogs: true})
	h.toCommandListening(t)

	h.provider.setChannel(domain.ChannelHtk, "htk: 你 好")
	h.provider.setChannel(domain.ChannelVad, "vad: speech_start")
	h.step(100 * time.Millisecond)

	if !h.logger.contains("info", "htk: htk: 你 好\nvad: vad: speech_start") {
		t.Fatalf("expected one merged entry: %+v", h.logger.snapshot())
	}
}

func TestVocabularyUpdateAppliedAtNextTick(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{})
	custom, err := vocab.New("开灯")
	if err != nil {
		t.Fatalf("vocab: %v", err)
	}
	h.loop.offerVocabulary(vocab.Default())
	h.loop.offerVocabulary(custom)

	h.toCommandListening(t)
	h.provider.setChannel(domain.ChannelPgs, "开灯")
	h.step(100 * time.Millisecond)

	commands := h.events.snapshotCommands()
	if len(commands) != 1 || commands[0].text != "开灯" {
		t.Fatalf("expected updated vocabulary to match, got %+v", commands)
	}
}

func TestShutdownStopsFurtherProviderCalls(t *testing.T) {
	t.Parallel()

	h := newLoopHarness(t, Config{})
	h.toCommandListening(t)
	h.loop.shutdown(context.Background())

	reads := h.provider.callCount("EsrStatus")
	h.step(100 * time.Millisecond)
	if h.provider.callCount("EsrStatus") != reads {
		t.Fatalf("provider polled after shutdown")
	}
	if h.loop.State() != domain.StateIdle {
		t.Fatalf("expected idle, got %s", h.loop.State())
	}
	if h.sink.isVisibleNow() {
		t.Fatalf("popup visible after shutdown")
	}
}
