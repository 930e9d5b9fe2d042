package usecase

import "wakeassist/internal/domain"

// tickInput is everything one tick learned, already de-duplicated.
type tickInput struct {
	State domain.AssistantState

	WakeupDetected bool
	WakeupInfo     string

	// Command is the first vocabulary match of the tick in channel priority
	// order, nil when nothing matched.
	Command *domain.CommandRecord

	// EsrSuccess carries the record read when the recognizer reported a
	// finished command utterance.
	EsrSuccess *domain.CommandRecord

	CommandTimedOut bool
	ProcessingDone  bool

	// Escalate forces recovery after repeated read failures.
	Escalate bool

	// Preview is live partial text to show when no transition fires.
	Preview string
}

type transition struct {
	From   domain.AssistantState
	To     domain.AssistantState
	Reason domain.StateReason
}

// nextTransition is the assistant transition function. It yields at most one
// transition per tick. Start and Stop are handled by the controller.
func nextTransition(in tickInput) (transition, bool) {
	if in.State == domain.StateIdle {
		return transition{}, false
	}
	if in.Escalate {
		return transition{From: in.State, To: domain.StateWakeupListening, Reason: domain.ReasonFailureRecovery}, true
	}

	switch in.State {
	case domain.StateWakeupListening:
		if in.WakeupDetected {
			return transition{From: in.State, To: domain.StateCommandListening, Reason: domain.ReasonWakeupDetected}, true
		}
	case domain.StateCommandListening:
		switch {
		case in.Command != nil:
			return transition{From: in.State, To: domain.StateProcessing, Reason: domain.ReasonCommandMatched}, true
		case in.EsrSuccess != nil:
			return transition{From: in.State, To: domain.StateProcessing, Reason: domain.ReasonEsrSuccess}, true
		case in.CommandTimedOut:
			return transition{From: in.State, To: domain.StateWakeupListening, Reason: domain.ReasonCommandTimeout}, true
		}
	case domain.StateProcessing:
		if in.ProcessingDone {
			return transition{From: in.State, To: domain.StateWakeupListening, Reason: domain.ReasonCommandDispatched}, true
		}
	}
	return transition{}, false
}
