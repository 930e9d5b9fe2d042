// Package recognizer provides RecognitionProvider implementations: one backed
// by live audio and a streaming transcription service, and one replaying a
// scripted scenario.
package recognizer

import (
	"errors"
	"sync"

	"wakeassist/internal/domain"
)

var errCaptureLost = errors.New("capture session ended unexpectedly")

// recognitionState is the polled surface shared by both recognizers: status
// flags and the five result buffers, each stored as "<tag>: <text>".
type recognitionState struct {
	mu         sync.Mutex
	wakeup     domain.WakeupStatus
	wakeupInfo string
	esr        domain.EsrStatus
	buffers    map[domain.ChannelID]string
	diagnostic string
	readErr    error
}

func newRecognitionState() *recognitionState {
	return &recognitionState{buffers: make(map[domain.ChannelID]string, len(domain.ChannelPriority))}
}

func (s *recognitionState) WakeupStatus() (domain.WakeupStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return domain.WakeupNone, s.readErr
	}
	return s.wakeup, nil
}

func (s *recognitionState) WakeupInfo() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return "", s.readErr
	}
	return s.wakeupInfo, nil
}

func (s *recognitionState) ResetWakeupStatus() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakeup = domain.WakeupNone
	s.wakeupInfo = ""
	return nil
}

func (s *recognitionState) EsrStatus() (domain.EsrStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return domain.EsrIdle, s.readErr
	}
	return s.esr, nil
}

func (s *recognitionState) ResetEsrStatus() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.esr = domain.EsrIdle
	return nil
}

func (s *recognitionState) ChannelText(channel domain.ChannelID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return "", s.readErr
	}
	return s.buffers[channel], nil
}

func (s *recognitionState) LastDiagnostic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diagnostic
}

// The helpers below expect s.mu to be held.

func (s *recognitionState) setBufferLocked(channel domain.ChannelID, text string) {
	s.buffers[channel] = string(channel) + ": " + text
}

func (s *recognitionState) clearForCommandLocked() {
	clear(s.buffers)
	s.esr = domain.EsrIdle
}

func (s *recognitionState) failLocked(err error, diagnostic string) {
	s.readErr = err
	s.diagnostic = diagnostic
}

func (s *recognitionState) recoverLocked() {
	s.readErr = nil
}
