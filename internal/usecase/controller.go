package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"wakeassist/internal/domain"
	"wakeassist/internal/observe"
	"wakeassist/internal/ports"
	"wakeassist/internal/vocab"
)

var (
	ErrAlreadyRunning      = errors.New("assistant is already running")
	ErrProviderUnavailable = errors.New("recognition provider unavailable")
)

const (
	DefaultWakeupAckText = "你好，请问你需要做什么操作？"
	DefaultFailureText   = "识别服务异常，正在恢复..."
)

// Config controls one monitoring session. It is passed to Start and stays
// fixed for the session, except for the vocabulary which may be replaced
// through UpdateVocabulary.
type Config struct {
	TickInterval               time.Duration
	CommandTimeout             time.Duration
	NotificationTimeout        time.Duration
	FailureNotificationTimeout time.Duration
	RetryBackoff               time.Duration
	FailureThreshold           int

	Matcher *vocab.Matcher

	WakeupAckText string
	FailureText   string

	// RequireQuietBeforeHide keeps a popup visible past its timeout while the
	// recognizer still reports wakeup or ESR activity.
	RequireQuietBeforeHide bool
	// MergeResultLogs logs all new channel texts of one tick as one entry.
	MergeResultLogs bool
	// LivePreview shows partial Pgs text while listening for a command.
	LivePreview bool
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 6 * time.Second
	}
	if c.NotificationTimeout <= 0 {
		c.NotificationTimeout = 5 * time.Second
	}
	if c.FailureNotificationTimeout <= 0 {
		c.FailureNotificationTimeout = 3 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Matcher == nil {
		c.Matcher = vocab.NewMatcher(nil)
	}
	if c.WakeupAckText == "" {
		c.WakeupAckText = DefaultWakeupAckText
	}
	return c
}

// sessionLogger is implemented by loggers that can tag lines with a session.
type sessionLogger interface {
	WithSession(id string) ports.Logger
}

// AssistantController starts and stops monitoring sessions. It is the
// control surface offered to hosts.
type AssistantController struct {
	provider ports.RecognitionProvider
	sink     ports.NotificationSink
	events   ports.EventSink
	logger   ports.Logger
	metrics  *observe.Metrics
	now      func() time.Time

	mu      sync.Mutex
	current *activeSession
	vocab   *vocab.Vocabulary
}

func NewAssistantController(
	provider ports.RecognitionProvider,
	sink ports.NotificationSink,
	events ports.EventSink,
	logger ports.Logger,
	metrics *observe.Metrics,
) *AssistantController {
	return &AssistantController{
		provider: provider,
		sink:     sink,
		events:   events,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Start begins monitoring. It fails with ErrAlreadyRunning while a session
// is active and with ErrProviderUnavailable when wakeup capture cannot start.
func (c *AssistantController) Start(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return ErrAlreadyRunning
	}

	cfg = cfg.withDefaults()
	if c.vocab != nil {
		cfg.Matcher = cfg.Matcher.WithVocabulary(c.vocab)
	}

	id := uuid.NewString()
	logger := c.logger
	if scoped, ok := logger.(sessionLogger); ok {
		logger = scoped.WithSession(id)
	}

	loop := newPollingLoop(cfg, c.provider, c.sink, c.events, logger, c.metrics, c.now)
	if err := loop.start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	active := &activeSession{
		id:     id,
		loop:   loop,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.current = active

	go func() {
		defer close(active.done)
		loop.run(loopCtx)
	}()

	logger.Infof("assistant started: tick=%s command_timeout=%s vocabulary=%d mode=%s",
		cfg.TickInterval, cfg.CommandTimeout, cfg.Matcher.Vocabulary().Len(), cfg.Matcher.Mode())
	return nil
}

// Stop cancels the loop, hides any popup and stops capture. It is
// idempotent.
func (c *AssistantController) Stop() {
	c.mu.Lock()
	active := c.current
	c.current = nil
	c.mu.Unlock()

	if active == nil {
		return
	}
	active.stop()
	active.loop.logger.Infof("assistant stopped")
}

// State returns the current assistant state.
func (c *AssistantController) State() domain.AssistantState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.StateIdle
	}
	return c.current.loop.State()
}

// Status returns the current backend status.
func (c *AssistantController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Status{State: domain.StateIdle}
	}
	return domain.Status{
		State:     c.current.loop.State(),
		Active:    true,
		SessionID: c.current.id,
	}
}

// UpdateVocabulary replaces the command vocabulary. A running session picks
// it up at its next tick; later sessions start with it.
func (c *AssistantController) UpdateVocabulary(v *vocab.Vocabulary) error {
	if v == nil || v.Len() == 0 {
		return errors.New("vocabulary is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.vocab = v
	if c.current != nil {
		c.current.loop.offerVocabulary(v)
	}
	return nil
}
