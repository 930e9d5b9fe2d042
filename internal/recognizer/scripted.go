package recognizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wakeassist/internal/domain"
	"wakeassist/internal/ports"
)

// Script is a timed recognizer scenario.
//
//	loop: true
//	steps:
//	  - after: 1s
//	    wakeup: true
//	    info: '{"keyword":"小爱同学"}'
//	  - after: 2s
//	    channel: pgs
//	    text: 暂停播放
//	  - after: 2500ms
//	    esr: success
type Script struct {
	Loop  bool         `yaml:"loop"`
	Steps []ScriptStep `yaml:"steps"`
}

// ScriptStep applies its fields once After has elapsed since the script
// started. Fail makes every read return an error until a step sets Recover.
type ScriptStep struct {
	After   time.Duration `yaml:"after"`
	Wakeup  bool          `yaml:"wakeup"`
	Info    string        `yaml:"info"`
	Channel string        `yaml:"channel"`
	Text    string        `yaml:"text"`
	Esr     string        `yaml:"esr"`
	Fail    string        `yaml:"fail"`
	Recover bool          `yaml:"recover"`
}

// ParseScript decodes and validates a scenario.
func ParseScript(contents []byte) (Script, error) {
	var script Script
	if err := yaml.Unmarshal(contents, &script); err != nil {
		return Script{}, fmt.Errorf("decode script: %w", err)
	}
	if len(script.Steps) == 0 {
		return Script{}, errors.New("script declares no steps")
	}

	var last time.Duration
	for i, step := range script.Steps {
		if step.After < last {
			return Script{}, fmt.Errorf("step %d: after %s is earlier than the previous step", i+1, step.After)
		}
		last = step.After
		if step.Channel != "" && !knownChannel(domain.ChannelID(strings.ToLower(step.Channel))) {
			return Script{}, fmt.Errorf("step %d: unknown channel %q", i+1, step.Channel)
		}
		if _, err := parseEsr(step.Esr); err != nil {
			return Script{}, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	if script.Loop && last <= 0 {
		return Script{}, errors.New("a looping script needs a last step with a positive after")
	}
	return script, nil
}

// LoadScript reads a scenario file.
func LoadScript(path string) (Script, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	return ParseScript(contents)
}

func knownChannel(channel domain.ChannelID) bool {
	for _, known := range domain.ChannelPriority {
		if known == channel {
			return true
		}
	}
	return false
}

func parseEsr(value string) (domain.EsrStatus, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "idle":
		return domain.EsrIdle, nil
	case "success":
		return domain.EsrSuccess, nil
	case "failed":
		return domain.EsrFailed, nil
	case "processing":
		return domain.EsrProcessing, nil
	}
	return domain.EsrIdle, fmt.Errorf("unknown esr status %q", value)
}

// ScriptedRecognizer replays a Script. Steps are applied lazily whenever
// the recognizer is read, so tests can drive it with a synthetic clock.
type ScriptedRecognizer struct {
	*recognitionState

	script Script
	now    func() time.Time
	logger ports.Logger

	// guarded by recognitionState.mu
	startedAt time.Time
	next      int
	running   bool
}

func NewScriptedRecognizer(script Script, logger ports.Logger, now func() time.Time) *ScriptedRecognizer {
	if now == nil {
		now = time.Now
	}
	return &ScriptedRecognizer{
		recognitionState: newRecognitionState(),
		script:           script,
		now:              now,
		logger:           logger,
	}
}

// StartWakeupCapture starts the script on first use. Later calls resume it.
func (r *ScriptedRecognizer) StartWakeupCapture(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		r.running = true
		r.startedAt = r.now()
		r.next = 0
		r.logger.Infof("script started: %d steps", len(r.script.Steps))
	}
	r.recoverLocked()
	return nil
}

func (r *ScriptedRecognizer) StartCommandCapture(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearForCommandLocked()
	return nil
}

func (r *ScriptedRecognizer) StopCapture() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.recoverLocked()
	return nil
}

func (r *ScriptedRecognizer) WakeupStatus() (domain.WakeupStatus, error) {
	r.advance()
	return r.recognitionState.WakeupStatus()
}

func (r *ScriptedRecognizer) WakeupInfo() (string, error) {
	r.advance()
	return r.recognitionState.WakeupInfo()
}

func (r *ScriptedRecognizer) EsrStatus() (domain.EsrStatus, error) {
	r.advance()
	return r.recognitionState.EsrStatus()
}

func (r *ScriptedRecognizer) ChannelText(channel domain.ChannelID) (string, error) {
	r.advance()
	return r.recognitionState.ChannelText(channel)
}

func (r *ScriptedRecognizer) advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}

	elapsed := r.now().Sub(r.startedAt)
	for r.next < len(r.script.Steps) && r.script.Steps[r.next].After <= elapsed {
		r.applyLocked(r.script.Steps[r.next])
		r.next++
	}
	if r.next == len(r.script.Steps) && r.script.Loop {
		r.startedAt = r.startedAt.Add(r.script.Steps[len(r.script.Steps)-1].After)
		r.next = 0
	}
}

func (r *ScriptedRecognizer) applyLocked(step ScriptStep) {
	if step.Recover {
		r.recoverLocked()
	}
	if step.Fail != "" {
		r.failLocked(errors.New(step.Fail), step.Fail)
	}
	if step.Wakeup {
		r.wakeup = domain.WakeupDetected
		r.wakeupInfo = step.Info
	}
	if step.Channel != "" {
		channel := domain.ChannelID(strings.ToLower(step.Channel))
		if strings.HasPrefix(strings.ToLower(step.Text), string(channel)) {
			r.buffers[channel] = step.Text
		} else {
			r.setBufferLocked(channel, step.Text)
		}
	}
	if step.Esr != "" {
		r.esr, _ = parseEsr(step.Esr)
	}
}

var _ ports.RecognitionProvider = (*ScriptedRecognizer)(nil)
