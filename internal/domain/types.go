package domain

import "time"

// AssistantState models the wakeup/command lifecycle.
type AssistantState string

const (
	StateIdle             AssistantState = "idle"
	StateWakeupListening  AssistantState = "wakeup_listening"
	StateCommandListening AssistantState = "command_listening"
	StateProcessing       AssistantState = "processing"
)

// StateReason provides a structured reason for state transitions.
type StateReason string

const (
	ReasonStarted           StateReason = "started"
	ReasonWakeupDetected    StateReason = "wakeup_detected"
	ReasonCommandMatched    StateReason = "command_matched"
	ReasonEsrSuccess        StateReason = "esr_success"
	ReasonCommandTimeout    StateReason = "command_timeout"
	ReasonCommandDispatched StateReason = "command_dispatched"
	ReasonFailureRecovery   StateReason = "failure_recovery"
	ReasonStopped           StateReason = "stopped"
)

// WakeupStatus is the wakeup flag published by the recognizer.
type WakeupStatus int

const (
	WakeupNone WakeupStatus = iota
	WakeupDetected
)

func (s WakeupStatus) String() string {
	if s == WakeupDetected {
		return "detected"
	}
	return "none"
}

// EsrStatus is the command-word recognizer status.
type EsrStatus int

const (
	EsrIdle EsrStatus = iota
	EsrSuccess
	EsrFailed
	EsrProcessing
)

func (s EsrStatus) String() string {
	switch s {
	case EsrSuccess:
		return "success"
	case EsrFailed:
		return "failed"
	case EsrProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// ChannelID names one of the recognizer's textual result buffers.
type ChannelID string

const (
	ChannelPgs      ChannelID = "pgs"
	ChannelHtk      ChannelID = "htk"
	ChannelPlain    ChannelID = "plain"
	ChannelVad      ChannelID = "vad"
	ChannelReadable ChannelID = "readable"
)

// ChannelPriority is the order in which channels are examined within a tick.
// Pgs carries the live partial text and is authoritative for command matching.
var ChannelPriority = []ChannelID{ChannelPgs, ChannelPlain, ChannelReadable, ChannelHtk, ChannelVad}

// RecognitionSnapshot is what one tick read from the recognizer.
type RecognitionSnapshot struct {
	WakeupStatus WakeupStatus
	WakeupInfo   string
	EsrStatus    EsrStatus
	Channels     map[ChannelID]string
}

// CommandRecord describes a recognized utterance and how it was handled.
type CommandRecord struct {
	RawText        string    `json:"rawText"`
	MatchedCommand string    `json:"matchedCommand,omitempty"`
	Matched        bool      `json:"matched"`
	HandledAt      time.Time `json:"handledAt"`
}

// ErrorCode identifies non-fatal backend errors.
type ErrorCode string

const (
	ErrorCodeProviderUnavailable ErrorCode = "provider_unavailable"
	ErrorCodeTransientRead       ErrorCode = "transient_read"
	ErrorCodeFailureEscalation   ErrorCode = "failure_escalation"
	ErrorCodeStartup             ErrorCode = "startup"
)

// Status summarizes the current runtime status.
type Status struct {
	State     AssistantState `json:"state"`
	Active    bool           `json:"active"`
	SessionID string         `json:"sessionId,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial       TranscriptKind = "partial"
	TranscriptKindFinal         TranscriptKind = "final"
	TranscriptKindSpeechStarted TranscriptKind = "speech_started"
	TranscriptKindUtteranceEnd  TranscriptKind = "utterance_end"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}
