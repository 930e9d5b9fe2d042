package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"wakeassist/internal/audio"
	"wakeassist/internal/config"
	"wakeassist/internal/domain"
	"wakeassist/internal/observe"
	"wakeassist/internal/ports"
	"wakeassist/internal/providers/deepgram"
	"wakeassist/internal/recognizer"
	"wakeassist/internal/usecase"
	"wakeassist/internal/vocab"
)

// Services is the assembled runtime graph shared by both hosts.
type Services struct {
	Controller *usecase.AssistantController
	Config     config.Config
	Assistant  usecase.Config
	Recognizer ports.RecognitionProvider
	Observe    *observe.Provider

	logger ports.Logger
}

// Build wires all backend dependencies for cfg. The host supplies the popup
// and event sinks and the logger.
func Build(cfg config.Config, sink ports.NotificationSink, events ports.EventSink, logger ports.Logger) (*Services, error) {
	vocabulary, err := loadVocabulary(cfg.Vocabulary.Path, logger)
	if err != nil {
		return nil, err
	}
	mode, err := vocab.ParseMode(cfg.Vocabulary.MatchMode)
	if err != nil {
		return nil, err
	}
	matcher := vocab.NewMatcher(vocabulary, vocab.WithMode(mode), vocab.WithFuzzyThreshold(cfg.Vocabulary.FuzzyThreshold))

	provider, err := buildRecognizer(cfg, logger)
	if err != nil {
		return nil, err
	}

	obs, err := observe.NewProvider()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	a := cfg.Assistant
	assistant := usecase.Config{
		TickInterval:               a.TickInterval,
		CommandTimeout:             a.CommandTimeout,
		NotificationTimeout:        a.NotificationTimeout,
		FailureNotificationTimeout: a.FailureNotificationTimeout,
		RetryBackoff:               a.RetryBackoff,
		FailureThreshold:           a.FailureThreshold,
		Matcher:                    matcher,
		WakeupAckText:              a.WakeupAckText,
		FailureText:                a.FailureText,
		RequireQuietBeforeHide:     a.RequireQuietBeforeHide,
		MergeResultLogs:            a.MergeResultLogs,
		LivePreview:                a.LivePreview,
	}

	return &Services{
		Controller: usecase.NewAssistantController(provider, sink, events, logger, obs.Metrics),
		Config:     cfg,
		Assistant:  assistant,
		Recognizer: provider,
		Observe:    obs,
		logger:     logger,
	}, nil
}

func buildRecognizer(cfg config.Config, logger ports.Logger) (ports.RecognitionProvider, error) {
	switch cfg.Recognizer.Kind {
	case config.RecognizerScript:
		script, err := recognizer.LoadScript(cfg.Recognizer.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("load script: %w", err)
		}
		return recognizer.NewScriptedRecognizer(script, logger, time.Now), nil
	case config.RecognizerStreaming, "":
		if err := recognizer.ValidateWakeupPhrases(cfg.Recognizer.WakeupPhrases); err != nil {
			return nil, err
		}
		return recognizer.NewStreamingRecognizer(
			audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
			deepgram.NewProvider(deepgram.Config{
				APIKey:         cfg.Deepgram.APIKey,
				APIBaseURL:     cfg.Deepgram.APIBaseURL,
				Model:          cfg.Deepgram.Model,
				Language:       cfg.Deepgram.Language,
				SmartFormat:    cfg.Deepgram.SmartFormat,
				VADEvents:      true,
				UtteranceEndMs: cfg.Deepgram.UtteranceEndMs,
			}),
			logger,
			recognizer.StreamingConfig{
				Audio: ports.AudioConfig{
					SampleRate:  cfg.Audio.SampleRate,
					Channels:    cfg.Audio.Channels,
					InputFormat: cfg.Audio.InputFormat,
					InputDevice: cfg.Audio.InputDevice,
					InputFile:   cfg.Audio.InputFile,
				},
				Streaming: ports.StreamingConfig{
					SampleRate:     cfg.Audio.SampleRate,
					Channels:       cfg.Audio.Channels,
					Encoding:       "linear16",
					InterimResults: true,
				},
				ChunkSize:     cfg.Audio.ChunkSize,
				WakeupPhrases: cfg.Recognizer.WakeupPhrases,
			},
		), nil
	default:
		return nil, fmt.Errorf("unknown recognizer kind %q", cfg.Recognizer.Kind)
	}
}

func loadVocabulary(path string, logger ports.Logger) (*vocab.Vocabulary, error) {
	v, err := vocab.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Infof("vocabulary ready: %d commands", v.Len())
	return v, nil
}

// Start begins monitoring with the configured session settings.
func (s *Services) Start(ctx context.Context) error {
	return s.Controller.Start(ctx, s.Assistant)
}

func (s *Services) Stop() {
	s.Controller.Stop()
}

func (s *Services) Status() domain.Status {
	return s.Controller.Status()
}

// ReloadVocabulary re-reads the vocabulary file and hands it to the
// controller. A broken file keeps the previous vocabulary.
func (s *Services) ReloadVocabulary() error {
	path := s.Config.Vocabulary.Path
	v, err := vocab.Load(path)
	if err != nil {
		return fmt.Errorf("reload vocabulary %s: %w", path, err)
	}
	if err := s.Controller.UpdateVocabulary(v); err != nil {
		return err
	}
	s.logger.Infof("vocabulary reloaded: %d commands", v.Len())
	return nil
}

// WatchVocabulary reloads the vocabulary whenever its file changes. It
// blocks until ctx is done and returns nil when watching is disabled.
func (s *Services) WatchVocabulary(ctx context.Context) error {
	path := s.Config.Vocabulary.Path
	if !s.Config.Vocabulary.Watch || path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		s.logger.Infof("not watching vocabulary: %v", err)
		return nil
	}
	return config.WatchFile(ctx, path, config.DefaultDebounce,
		func() {
			if err := s.ReloadVocabulary(); err != nil {
				s.logger.Warnf("%v", err)
			}
		},
		func(err error) {
			s.logger.Warnf("vocabulary watch: %v", err)
		},
	)
}

// Shutdown stops the controller and flushes metrics.
func (s *Services) Shutdown(ctx context.Context) error {
	s.Controller.Stop()
	return s.Observe.Shutdown(ctx)
}
