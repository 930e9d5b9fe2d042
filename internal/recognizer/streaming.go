package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"wakeassist/internal/domain"
	"wakeassist/internal/ports"
)

// StreamingConfig controls the live recognizer.
type StreamingConfig struct {
	Audio         ports.AudioConfig
	Streaming     ports.StreamingConfig
	ChunkSize     int
	WakeupPhrases []string
}

type captureMode int

const (
	modeOff captureMode = iota
	modeWakeup
	modeCommand
)

// StreamingRecognizer turns an audio capture and a streaming transcription
// session into the polled recognizer surface. Wakeup detection is a phrase
// match on the transcript; command results are partials and finals of the
// same stream.
type StreamingRecognizer struct {
	*recognitionState

	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      StreamingConfig
	logger   ports.Logger

	// guarded by recognitionState.mu
	mode       captureMode
	current    *captureSession
	aggregator *transcriptAggregator
}

type captureSession struct {
	cancel     context.CancelFunc
	audio      ports.AudioSession
	stream     ports.StreamingSession
	eventsDone chan struct{}
	audioDone  chan struct{}
}

func NewStreamingRecognizer(
	audio ports.AudioCapture,
	provider ports.TranscriptionProvider,
	logger ports.Logger,
	cfg StreamingConfig,
) *StreamingRecognizer {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if len(cfg.Streaming.Keywords) == 0 {
		cfg.Streaming.Keywords = cfg.WakeupPhrases
	}
	return &StreamingRecognizer{
		recognitionState: newRecognitionState(),
		audio:            audio,
		provider:         provider,
		cfg:              cfg,
		logger:           logger,
		aggregator:       newTranscriptAggregator(),
	}
}

// StartWakeupCapture switches to wakeup detection, opening a capture session
// when none is running.
func (r *StreamingRecognizer) StartWakeupCapture(ctx context.Context) error {
	return r.switchMode(ctx, modeWakeup)
}

// StartCommandCapture switches to command recognition and clears the result
// buffers and ESR status.
func (r *StreamingRecognizer) StartCommandCapture(ctx context.Context) error {
	return r.switchMode(ctx, modeCommand)
}

func (r *StreamingRecognizer) switchMode(ctx context.Context, mode captureMode) error {
	r.mu.Lock()
	r.mode = mode
	if mode == modeCommand {
		r.clearForCommandLocked()
		r.aggregator.Reset()
	}
	running := r.current != nil
	r.mu.Unlock()

	if running {
		return nil
	}
	return r.open(ctx)
}

// StopCapture ends the capture session.
func (r *StreamingRecognizer) StopCapture() error {
	r.mu.Lock()
	r.mode = modeOff
	session := r.current
	r.current = nil
	r.recoverLocked()
	r.mu.Unlock()

	if session != nil {
		r.closeSession(session)
	}
	return nil
}

func (r *StreamingRecognizer) open(ctx context.Context) error {
	// The session outlives the call that opened it; StopCapture ends it.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	stream, err := r.provider.StartStreaming(sessionCtx, r.cfg.Streaming)
	if err != nil {
		cancel()
		r.setDiagnostic(err)
		return fmt.Errorf("start transcription: %w", err)
	}

	audioSession, err := r.audio.Start(sessionCtx, r.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		r.setDiagnostic(err)
		return fmt.Errorf("start audio capture: %w", err)
	}

	session := &captureSession{
		cancel:     cancel,
		audio:      audioSession,
		stream:     stream,
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}

	r.mu.Lock()
	r.current = session
	r.recoverLocked()
	r.mu.Unlock()

	go func() {
		consumeTranscriptionEvents(stream, r.handle, session.eventsDone)
		r.sessionEnded(session)
	}()
	go pumpAudioChunks(audioSession, stream, r.cfg.ChunkSize, r.pumpFailed, session.audioDone)

	r.logger.Infof("capture session opened")
	return nil
}

func (r *StreamingRecognizer) closeSession(session *captureSession) {
	session.cancel()
	_ = session.audio.Stop()
	_ = session.stream.Close()
	<-session.eventsDone
	<-session.audioDone
}

// sessionEnded runs when the event stream closes. An end nobody asked for
// makes reads fail until a capture is started again.
func (r *StreamingRecognizer) sessionEnded(session *captureSession) {
	streamErr := waitForStream(session.stream, 2*time.Second)

	r.mu.Lock()
	if r.current != session {
		r.mu.Unlock()
		return
	}
	r.current = nil
	diagnostic := errCaptureLost.Error()
	if streamErr != nil {
		diagnostic = streamErr.Error()
	}
	if r.mode == modeCommand {
		r.esr = domain.EsrFailed
	}
	r.failLocked(errCaptureLost, diagnostic)
	r.mu.Unlock()

	_ = session.audio.Stop()
	session.cancel()
	r.logger.Warnf("capture session ended: %s", diagnostic)
}

func (r *StreamingRecognizer) pumpFailed(err error) {
	r.setDiagnostic(err)
	r.logger.Warnf("audio pump: %v", err)
}

func (r *StreamingRecognizer) setDiagnostic(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostic = err.Error()
}

func (r *StreamingRecognizer) handle(event domain.TranscriptEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Kind {
	case domain.TranscriptKindSpeechStarted:
		r.setBufferLocked(domain.ChannelVad, "speech_start")
		return
	case domain.TranscriptKindUtteranceEnd:
		r.setBufferLocked(domain.ChannelVad, "speech_end")
		return
	}

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}

	if r.mode == modeWakeup {
		if phrase, ok := matchWakeupPhrase(text, r.cfg.WakeupPhrases); ok && r.wakeup == domain.WakeupNone {
			r.wakeup = domain.WakeupDetected
			r.wakeupInfo = wakeupInfo(phrase, text)
		}
		return
	}
	if r.mode != modeCommand {
		return
	}

	r.aggregator.Add(event)
	r.setBufferLocked(domain.ChannelPgs, text)
	if event.Kind == domain.TranscriptKindPartial {
		if r.esr != domain.EsrSuccess {
			r.esr = domain.EsrProcessing
		}
		return
	}

	r.setBufferLocked(domain.ChannelPlain, text)
	r.setBufferLocked(domain.ChannelReadable, r.aggregator.Raw())
	r.setBufferLocked(domain.ChannelHtk, strings.Join(tokens(text), " "))
	r.esr = domain.EsrSuccess
}

func matchWakeupPhrase(text string, phrases []string) (string, bool) {
	compact := compactText(text)
	for _, phrase := range phrases {
		if p := compactText(phrase); p != "" && strings.Contains(compact, p) {
			return phrase, true
		}
	}
	return "", false
}

// compactText lowercases and drops whitespace and punctuation the
// transcription service may insert inside a wakeup phrase.
func compactText(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r == ' ' || r == '\t' || r == ',' || r == '.' || r == '，' || r == '。' || r == '！' || r == '？' || r == '!' || r == '?':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func wakeupInfo(phrase, text string) string {
	payload, err := json.Marshal(map[string]string{"keyword": phrase, "text": text})
	if err != nil {
		return phrase
	}
	return string(payload)
}

// tokens splits on whitespace; unspaced CJK text is split per rune.
func tokens(text string) []string {
	fields := strings.Fields(text)
	if len(fields) != 1 || utf8.RuneCountInString(fields[0]) == len(fields[0]) {
		return fields
	}
	out := make([]string, 0, utf8.RuneCountInString(fields[0]))
	for _, r := range fields[0] {
		out = append(out, string(r))
	}
	return out
}

var _ ports.RecognitionProvider = (*StreamingRecognizer)(nil)

// errNoPhrases is returned by ValidateWakeupPhrases.
var errNoPhrases = errors.New("at least one wakeup phrase is required")

// ValidateWakeupPhrases rejects an empty phrase list.
func ValidateWakeupPhrases(phrases []string) error {
	for _, phrase := range phrases {
		if strings.TrimSpace(phrase) != "" {
			return nil
		}
	}
	return errNoPhrases
}
