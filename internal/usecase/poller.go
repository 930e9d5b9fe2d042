package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"wakeassist/internal/domain"
	"wakeassist/internal/observe"
	"wakeassist/internal/ports"
	"wakeassist/internal/vocab"
)

// pollingLoop owns the assistant state, the channel cache and the
// notification scheduler for one session. Only the goroutine running run
// (or a test calling tick directly) may touch its unexported state.
type pollingLoop struct {
	cfg        Config
	provider   ports.RecognitionProvider
	events     ports.EventSink
	logger     ports.Logger
	metrics    *observe.Metrics
	notifier   *notificationScheduler
	dispatcher *commandDispatcher
	matcher    *vocab.Matcher
	dedup      *resultDeduplicator
	now        func() time.Time

	state              domain.AssistantState
	failures           int
	entryPending       bool
	retryAt            time.Time
	commandDeadline    time.Time
	processingDeadline time.Time
	latestUtterance    string

	published    atomic.Value
	busy         atomic.Bool
	vocabUpdates chan *vocab.Vocabulary
}

type freshText struct {
	channel domain.ChannelID
	text    string
}

func newPollingLoop(
	cfg Config,
	provider ports.RecognitionProvider,
	sink ports.NotificationSink,
	events ports.EventSink,
	logger ports.Logger,
	metrics *observe.Metrics,
	now func() time.Time,
) *pollingLoop {
	if now == nil {
		now = time.Now
	}
	l := &pollingLoop{
		cfg:          cfg,
		provider:     provider,
		events:       events,
		logger:       logger,
		metrics:      metrics,
		notifier:     newNotificationScheduler(sink),
		dispatcher:   newCommandDispatcher(now),
		matcher:      cfg.Matcher,
		dedup:        newResultDeduplicator(),
		now:          now,
		state:        domain.StateIdle,
		vocabUpdates: make(chan *vocab.Vocabulary, 1),
	}
	l.published.Store(domain.StateIdle)
	if cfg.RequireQuietBeforeHide {
		l.notifier.SetHideGuard(func() bool { return !l.busy.Load() })
	}
	return l
}

// State returns the last published state. Safe from any goroutine.
func (l *pollingLoop) State() domain.AssistantState {
	return l.published.Load().(domain.AssistantState)
}

// start performs the Idle -> WakeupListening transition. The wakeup capture
// is started before anything is published so a failed start leaves the loop
// idle.
func (l *pollingLoop) start(ctx context.Context) error {
	l.dedup.Reset()
	if err := l.guard(func() error { return l.provider.StartWakeupCapture(ctx) }); err != nil {
		l.logger.Errorf("start wakeup capture failed: %v (%s)", err, l.diagnostic())
		l.events.AssistantError(domain.ErrorCodeProviderUnavailable, err.Error())
		return err
	}
	l.setState(ctx, transition{From: domain.StateIdle, To: domain.StateWakeupListening, Reason: domain.ReasonStarted})
	return nil
}

// run ticks until ctx is cancelled.
func (l *pollingLoop) run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, l.now())
		}
	}
}

// shutdown forces the Idle state. It must run after run has returned.
func (l *pollingLoop) shutdown(ctx context.Context) {
	l.notifier.Hide()
	if err := l.guard(l.provider.StopCapture); err != nil {
		l.logger.Warnf("stop capture: %v", err)
	}
	l.dedup.Reset()
	l.entryPending = false
	l.commandDeadline = time.Time{}
	l.processingDeadline = time.Time{}
	if l.state != domain.StateIdle {
		l.setState(ctx, transition{From: l.state, To: domain.StateIdle, Reason: domain.ReasonStopped})
	}
}

// offerVocabulary queues v for the next tick, replacing any queued update.
func (l *pollingLoop) offerVocabulary(v *vocab.Vocabulary) {
	for {
		select {
		case l.vocabUpdates <- v:
			return
		default:
		}
		select {
		case <-l.vocabUpdates:
		default:
		}
	}
}

func (l *pollingLoop) tick(ctx context.Context, now time.Time) {
	if ctx.Err() != nil || l.state == domain.StateIdle {
		return
	}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorf("tick panic: %v", r)
			l.recordFailure(ctx, now, fmt.Errorf("tick panic: %v", r))
		}
		l.metrics.RecordTick(ctx, time.Since(started))
	}()

	l.applyVocabularyUpdate()

	if l.entryPending {
		if now.Before(l.retryAt) {
			l.advance(ctx, now, l.timeInputs(now))
			return
		}
		if err := l.startCapture(ctx, l.state); err != nil {
			l.entryFailed(now, l.state, err)
			l.advance(ctx, now, l.timeInputs(now))
			return
		}
		l.entryPending = false
		l.logger.Infof("%s capture started after retry", l.state)
	}

	snap, err := l.read()
	if err != nil {
		l.recordFailure(ctx, now, err)
		return
	}
	l.failures = 0
	l.advance(ctx, now, l.observe(snap, now))
}

func (l *pollingLoop) applyVocabularyUpdate() {
	select {
	case v := <-l.vocabUpdates:
		l.matcher = l.matcher.WithVocabulary(v)
		l.logger.Infof("vocabulary updated: %d commands", v.Len())
	default:
	}
}

// read samples the signals relevant to the current state. Nothing is fed
// to the deduplicator here, so a failed read leaves the cache untouched.
func (l *pollingLoop) read() (snap domain.RecognitionSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	switch l.state {
	case domain.StateWakeupListening:
		if snap.WakeupStatus, err = l.provider.WakeupStatus(); err != nil {
			return snap, fmt.Errorf("wakeup status: %w", err)
		}
		if snap.WakeupStatus == domain.WakeupDetected {
			if snap.WakeupInfo, err = l.provider.WakeupInfo(); err != nil {
				return snap, fmt.Errorf("wakeup info: %w", err)
			}
		}
		l.busy.Store(snap.WakeupStatus != domain.WakeupNone)
	case domain.StateCommandListening:
		if snap.EsrStatus, err = l.provider.EsrStatus(); err != nil {
			return snap, fmt.Errorf("esr status: %w", err)
		}
		snap.Channels = make(map[domain.ChannelID]string, len(domain.ChannelPriority))
		for _, channel := range domain.ChannelPriority {
			text, readErr := l.provider.ChannelText(channel)
			if readErr != nil {
				return snap, fmt.Errorf("%s channel: %w", channel, readErr)
			}
			snap.Channels[channel] = text
		}
		l.busy.Store(snap.EsrStatus != domain.EsrIdle)
	}
	return snap, nil
}

func (l *pollingLoop) recordFailure(ctx context.Context, now time.Time, err error) {
	l.failures++
	l.metrics.RecordReadFailure(ctx)
	l.logger.Debugf("transient read failure %d/%d: %v", l.failures, l.cfg.FailureThreshold, err)
	if l.failures == 1 {
		l.events.AssistantError(domain.ErrorCodeTransientRead, err.Error())
	}

	if l.failures < l.cfg.FailureThreshold {
		l.advance(ctx, now, l.timeInputs(now))
		return
	}

	l.failures = 0
	l.metrics.RecordEscalation(ctx)
	l.logger.Warnf("%d consecutive provider failures in %s, forcing recovery: %v", l.cfg.FailureThreshold, l.state, err)
	l.events.AssistantError(domain.ErrorCodeFailureEscalation, err.Error())
	l.advance(ctx, now, tickInput{State: l.state, Escalate: true})
}

func (l *pollingLoop) timeInputs(now time.Time) tickInput {
	return tickInput{
		State:           l.state,
		CommandTimedOut: l.state == domain.StateCommandListening && !l.commandDeadline.IsZero() && !now.Before(l.commandDeadline),
		ProcessingDone:  l.state == domain.StateProcessing && !now.Before(l.processingDeadline),
	}
}

// observe turns a snapshot into the tick's inputs: channels are
// de-duplicated in priority order and the first vocabulary match wins.
func (l *pollingLoop) observe(snap domain.RecognitionSnapshot, now time.Time) tickInput {
	in := l.timeInputs(now)

	switch l.state {
	case domain.StateWakeupListening:
		in.WakeupDetected = snap.WakeupStatus == domain.WakeupDetected
		in.WakeupInfo = snap.WakeupInfo
	case domain.StateCommandListening:
		var fresh []freshText
		tickUtterance := ""
		for _, channel := range domain.ChannelPriority {
			text, ok := l.dedup.Observe(channel, snap.Channels[channel])
			if !ok {
				continue
			}
			fresh = append(fresh, freshText{channel: channel, text: text})

			utterance := normalizeUtterance(text)
			if utterance == "" {
				continue
			}
			if isUtteranceChannel(channel) && tickUtterance == "" {
				tickUtterance = utterance
			}
			if channel == domain.ChannelPgs && l.cfg.LivePreview {
				in.Preview = previewText(utterance)
			}
			if in.Command == nil && isUtteranceChannel(channel) {
				in.Command = l.matchCommand(utterance, now)
			}
		}
		if tickUtterance != "" {
			l.latestUtterance = tickUtterance
		}
		l.logFresh(fresh)

		if in.Command == nil && snap.EsrStatus == domain.EsrSuccess {
			in.EsrSuccess = l.esrRecord(now)
		}
	}
	return in
}

func isUtteranceChannel(channel domain.ChannelID) bool {
	return channel == domain.ChannelPgs || channel == domain.ChannelPlain || channel == domain.ChannelReadable
}

func (l *pollingLoop) matchCommand(utterance string, now time.Time) *domain.CommandRecord {
	match, ok := l.matcher.Match(utterance)
	if !ok {
		return nil
	}
	return &domain.CommandRecord{RawText: utterance, MatchedCommand: match.Command, Matched: true, HandledAt: now}
}

// esrRecord builds the record for a finished ESR utterance, falling back to
// the last Pgs text when no utterance channel produced anything this turn.
func (l *pollingLoop) esrRecord(now time.Time) *domain.CommandRecord {
	text := l.latestUtterance
	if text == "" {
		text = normalizeUtterance(l.dedup.Last(domain.ChannelPgs))
	}
	record := domain.CommandRecord{RawText: text, HandledAt: now}
	if match, ok := l.matcher.Match(text); ok {
		record.MatchedCommand = match.Command
		record.Matched = true
	}
	return &record
}

func commandKey(record domain.CommandRecord) string {
	if record.Matched {
		return record.MatchedCommand
	}
	return record.RawText
}

func (l *pollingLoop) logFresh(fresh []freshText) {
	if len(fresh) == 0 {
		return
	}
	if !l.cfg.MergeResultLogs {
		for _, f := range fresh {
			l.logger.Infof("%s: %s", f.channel, f.text)
		}
		return
	}
	var b strings.Builder
	for i, f := range fresh {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", f.channel, f.text)
	}
	l.logger.Infof("%s", b.String())
}

func (l *pollingLoop) advance(ctx context.Context, now time.Time, in tickInput) {
	tr, ok := nextTransition(in)
	if !ok {
		if in.Preview != "" {
			l.notifier.Notify(in.Preview, l.commandDeadline.Sub(now))
		}
		return
	}

	l.setState(ctx, tr)
	l.commandDeadline = time.Time{}
	l.processingDeadline = time.Time{}
	l.entryPending = false

	switch tr.To {
	case domain.StateWakeupListening:
		l.enterWakeupListening(ctx, now, tr)
	case domain.StateCommandListening:
		l.enterCommandListening(ctx, now, in)
	case domain.StateProcessing:
		l.enterProcessing(ctx, now, tr, in)
	}
}

func (l *pollingLoop) setState(ctx context.Context, tr transition) {
	l.logger.Infof("state %s -> %s (%s)", tr.From, tr.To, tr.Reason)
	l.state = tr.To
	l.published.Store(tr.To)
	l.metrics.RecordTransition(ctx, string(tr.To))
	l.events.StateChanged(tr.To, tr.Reason)
}

func (l *pollingLoop) enterWakeupListening(ctx context.Context, now time.Time, tr transition) {
	l.notifier.Hide()
	if tr.Reason == domain.ReasonFailureRecovery {
		if err := l.guard(l.provider.ResetWakeupStatus); err != nil {
			l.logger.Debugf("reset wakeup status during recovery: %v", err)
		}
		l.resetEsr()
	}
	l.dedup.Reset()
	l.latestUtterance = ""
	l.busy.Store(false)

	if err := l.startCapture(ctx, domain.StateWakeupListening); err != nil {
		l.entryFailed(now, domain.StateWakeupListening, err)
	}
	if tr.Reason == domain.ReasonFailureRecovery && l.cfg.FailureText != "" {
		l.show(ctx, l.cfg.FailureText, l.cfg.FailureNotificationTimeout)
	}
}

func (l *pollingLoop) enterCommandListening(ctx context.Context, now time.Time, in tickInput) {
	if in.WakeupInfo != "" {
		l.logger.Infof("wakeup: %s", in.WakeupInfo)
	}
	l.show(ctx, l.cfg.WakeupAckText, l.cfg.CommandTimeout)
	l.dedup.Reset()
	l.latestUtterance = ""
	l.commandDeadline = now.Add(l.cfg.CommandTimeout)

	if err := l.guard(l.provider.ResetWakeupStatus); err != nil {
		l.logger.Warnf("reset wakeup status: %v", err)
	}
	if err := l.startCapture(ctx, domain.StateCommandListening); err != nil {
		l.entryFailed(now, domain.StateCommandListening, err)
	}
}

func (l *pollingLoop) enterProcessing(ctx context.Context, now time.Time, tr transition, in tickInput) {
	record := in.Command
	if record == nil {
		record = in.EsrSuccess
	}
	if tr.Reason == domain.ReasonEsrSuccess {
		l.resetEsr()
	}

	reply, handled := l.dispatcher.Dispatch(ctx, *record)

	success := record.Matched || handled
	text := commandKey(*record)
	l.logger.Infof("command %q matched=%t handled=%t", text, record.Matched, handled)
	l.metrics.RecordCommand(ctx, record.Matched)
	l.events.CommandRecognized(text, success)

	dwell := l.cfg.NotificationTimeout
	if !success {
		dwell = l.cfg.FailureNotificationTimeout
	}
	l.show(ctx, reply, dwell)
	l.processingDeadline = now.Add(dwell)
}

func (l *pollingLoop) show(ctx context.Context, text string, timeout time.Duration) {
	l.notifier.Notify(text, timeout)
	l.metrics.RecordNotification(ctx)
}

func (l *pollingLoop) resetEsr() {
	if err := l.guard(l.provider.ResetEsrStatus); err != nil {
		l.logger.Debugf("reset esr status: %v", err)
	}
	l.busy.Store(false)
}

func (l *pollingLoop) startCapture(ctx context.Context, state domain.AssistantState) error {
	switch state {
	case domain.StateWakeupListening:
		return l.guard(func() error { return l.provider.StartWakeupCapture(ctx) })
	case domain.StateCommandListening:
		return l.guard(func() error { return l.provider.StartCommandCapture(ctx) })
	}
	return nil
}

// entryFailed schedules a retry of the state's capture start. Time based
// inputs keep being evaluated while the retry is pending.
func (l *pollingLoop) entryFailed(now time.Time, state domain.AssistantState, err error) {
	l.entryPending = true
	l.retryAt = now.Add(l.cfg.RetryBackoff)
	l.logger.Errorf("start %s capture failed, retrying in %s: %v (%s)", state, l.cfg.RetryBackoff, err, l.diagnostic())
	l.events.AssistantError(domain.ErrorCodeProviderUnavailable, err.Error())
}

func (l *pollingLoop) diagnostic() (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = ""
		}
	}()
	return l.provider.LastDiagnostic()
}

// guard converts a provider panic into an error.
func (l *pollingLoop) guard(call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return call()
}
