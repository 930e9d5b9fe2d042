package ports

import (
	"context"
	"io"

	"wakeassist/internal/domain"
)

// RecognitionProvider exposes the polled state of a wakeup/command recognizer.
// Getters may repeat the previous value on every call; callers are expected to
// de-duplicate. StartCommandCapture must clear the channel buffers and ESR
// status left by the previous turn.
type RecognitionProvider interface {
	WakeupStatus() (domain.WakeupStatus, error)
	WakeupInfo() (string, error)
	ResetWakeupStatus() error

	StartWakeupCapture(ctx context.Context) error
	StartCommandCapture(ctx context.Context) error
	StopCapture() error

	EsrStatus() (domain.EsrStatus, error)
	ResetEsrStatus() error

	ChannelText(channel domain.ChannelID) (string, error)
	LastDiagnostic() string
}

// NotificationSink renders the transient assistant popup.
type NotificationSink interface {
	Show(text string)
	Hide()
	IsVisible() bool
}

// Logger records timestamped lines. Implementations must not panic.
type Logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

// EventSink emits assistant state and recognition events to the host.
type EventSink interface {
	StateChanged(state domain.AssistantState, reason domain.StateReason)
	CommandRecognized(text string, success bool)
	AssistantError(code domain.ErrorCode, detail string)
}

// AudioConfig describes how audio should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	// InputFile replays a recording instead of opening a live device.
	InputFile string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
	// Keywords are boosted by providers that support it.
	Keywords []string
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}
