package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wakeassist/internal/vocab"
)

// Recognizer kinds.
const (
	RecognizerStreaming = "streaming"
	RecognizerScript    = "script"
)

// Config stores runtime configuration for both hosts.
type Config struct {
	Assistant  AssistantConfig  `yaml:"assistant"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	Audio      AudioConfig      `yaml:"audio"`
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`

	// File is the YAML overlay that was applied, if any.
	File string `yaml:"-"`
}

type AssistantConfig struct {
	TickInterval               time.Duration `yaml:"tick_interval"`
	CommandTimeout             time.Duration `yaml:"command_timeout"`
	NotificationTimeout        time.Duration `yaml:"notification_timeout"`
	FailureNotificationTimeout time.Duration `yaml:"failure_notification_timeout"`
	RetryBackoff               time.Duration `yaml:"retry_backoff"`
	FailureThreshold           int           `yaml:"failure_threshold"`
	WakeupAckText              string        `yaml:"wakeup_ack_text"`
	FailureText                string        `yaml:"failure_text"`
	RequireQuietBeforeHide     bool          `yaml:"require_quiet_before_hide"`
	MergeResultLogs            bool          `yaml:"merge_result_logs"`
	LivePreview                bool          `yaml:"live_preview"`
}

type VocabularyConfig struct {
	Path           string  `yaml:"path"`
	MatchMode      string  `yaml:"match_mode"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	Watch          bool    `yaml:"watch"`
}

type RecognizerConfig struct {
	Kind          string   `yaml:"kind"`
	WakeupPhrases []string `yaml:"wakeup_phrases"`
	ScriptPath    string   `yaml:"script_path"`
}

type DeepgramConfig struct {
	APIKey         string `yaml:"api_key"`
	APIBaseURL     string `yaml:"api_base_url"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	SmartFormat    bool   `yaml:"smart_format"`
	UtteranceEndMs int    `yaml:"utterance_end_ms"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	InputFile       string `yaml:"input_file"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunk_size"`
}

type LogConfig struct {
	Mode     string `yaml:"mode"`
	Encoding string `yaml:"encoding"`
}

type HTTPConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
}

var defaultWakeupPhrases = []string{"小爱同学", "你好助手"}

// Load resolves configuration from environment variables and sensible
// defaults, then overlays the YAML file named by WAKEASSIST_CONFIG.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	defaultVocab := filepath.Join(home, ".config", "wakeassist", "commands.vocab")
	vocabPath := strings.TrimSpace(os.Getenv("WAKEASSIST_VOCAB_FILE"))
	if vocabPath == "" {
		vocabPath = firstExisting(defaultVocab, filepath.Join(home, ".wakeassist.vocab"))
	}

	cfg := Config{
		Assistant: AssistantConfig{
			TickInterval:               envOrDefaultMillis("WAKEASSIST_TICK_MS", 100*time.Millisecond),
			CommandTimeout:             envOrDefaultMillis("WAKEASSIST_COMMAND_TIMEOUT_MS", 6*time.Second),
			NotificationTimeout:        envOrDefaultMillis("WAKEASSIST_NOTIFICATION_TIMEOUT_MS", 5*time.Second),
			FailureNotificationTimeout: envOrDefaultMillis("WAKEASSIST_FAILURE_NOTIFICATION_TIMEOUT_MS", 3*time.Second),
			RetryBackoff:               envOrDefaultMillis("WAKEASSIST_RETRY_BACKOFF_MS", time.Second),
			FailureThreshold:           envOrDefaultInt("WAKEASSIST_FAILURE_THRESHOLD", 3),
			WakeupAckText:              envOrDefault("WAKEASSIST_WAKEUP_ACK_TEXT", "你好，请问你需要做什么操作？"),
			FailureText:                envOrDefault("WAKEASSIST_FAILURE_TEXT", "识别服务异常，正在恢复..."),
			RequireQuietBeforeHide:     envOrDefaultBool("WAKEASSIST_REQUIRE_QUIET_BEFORE_HIDE", true),
			MergeResultLogs:            envOrDefaultBool("WAKEASSIST_MERGE_RESULT_LOGS", true),
			LivePreview:                envOrDefaultBool("WAKEASSIST_LIVE_PREVIEW", true),
		},
		Vocabulary: VocabularyConfig{
			Path:           vocabPath,
			MatchMode:      envOrDefault("WAKEASSIST_MATCH_MODE", string(vocab.ModeExact)),
			FuzzyThreshold: envOrDefaultFloat("WAKEASSIST_FUZZY_THRESHOLD", 0.85),
			Watch:          envOrDefaultBool("WAKEASSIST_VOCAB_WATCH", true),
		},
		Recognizer: RecognizerConfig{
			Kind:          strings.ToLower(envOrDefault("WAKEASSIST_RECOGNIZER", RecognizerStreaming)),
			WakeupPhrases: envOrDefaultList("WAKEASSIST_WAKEUP_PHRASES", defaultWakeupPhrases),
			ScriptPath:    strings.TrimSpace(os.Getenv("WAKEASSIST_SCRIPT_FILE")),
		},
		Deepgram: DeepgramConfig{
			APIKey:         strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:     envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:          envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:       envOrDefault("DEEPGRAM_LANGUAGE", "zh-CN"),
			SmartFormat:    envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
			UtteranceEndMs: envOrDefaultInt("DEEPGRAM_UTTERANCE_END_MS", 1000),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("WAKEASSIST_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("WAKEASSIST_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("WAKEASSIST_AUDIO_INPUT_DEVICE"),
				os.Getenv("DEEPGRAM_PULSE_SOURCE"),
				"default",
			),
			InputFile:  strings.TrimSpace(os.Getenv("WAKEASSIST_AUDIO_INPUT_FILE")),
			SampleRate: envOrDefaultInt("WAKEASSIST_SAMPLE_RATE", 16000),
			Channels:   envOrDefaultInt("WAKEASSIST_CHANNELS", 1),
			ChunkSize:  envOrDefaultInt("WAKEASSIST_AUDIO_CHUNK_SIZE", 4096),
		},
		Log: LogConfig{
			Mode:     envOrDefault("WAKEASSIST_LOG_MODE", "release"),
			Encoding: envOrDefault("WAKEASSIST_LOG_ENCODING", "console"),
		},
		HTTP: HTTPConfig{
			Addr:    envOrDefault("WAKEASSIST_HTTP_ADDR", "127.0.0.1:8787"),
			Metrics: envOrDefaultBool("WAKEASSIST_METRICS", true),
		},
	}

	if path := strings.TrimSpace(os.Getenv("WAKEASSIST_CONFIG")); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
		cfg.File = path
	}

	cfg.applyFallbacks()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// overlayFile decodes the YAML file over cfg; keys missing from the file
// keep their environment or default value.
func overlayFile(cfg *Config, path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyFallbacks() {
	a := &c.Assistant
	a.TickInterval = positiveOr(a.TickInterval, 100*time.Millisecond)
	a.CommandTimeout = positiveOr(a.CommandTimeout, 6*time.Second)
	a.NotificationTimeout = positiveOr(a.NotificationTimeout, 5*time.Second)
	a.FailureNotificationTimeout = positiveOr(a.FailureNotificationTimeout, 3*time.Second)
	a.RetryBackoff = positiveOr(a.RetryBackoff, time.Second)
	if a.FailureThreshold <= 0 {
		a.FailureThreshold = 3
	}
	if c.Vocabulary.FuzzyThreshold <= 0 || c.Vocabulary.FuzzyThreshold > 1 {
		c.Vocabulary.FuzzyThreshold = 0.85
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.ChunkSize < 256 {
		c.Audio.ChunkSize = 4096
	}
	if len(c.Recognizer.WakeupPhrases) == 0 {
		c.Recognizer.WakeupPhrases = append([]string(nil), defaultWakeupPhrases...)
	}
	c.Recognizer.Kind = strings.ToLower(strings.TrimSpace(c.Recognizer.Kind))
}

func (c *Config) validate() error {
	if _, err := vocab.ParseMode(c.Vocabulary.MatchMode); err != nil {
		return err
	}
	switch c.Recognizer.Kind {
	case RecognizerStreaming:
	case RecognizerScript:
		if c.Recognizer.ScriptPath == "" {
			return errors.New("script recognizer requires a script path")
		}
	default:
		return fmt.Errorf("unknown recognizer kind %q", c.Recognizer.Kind)
	}
	return nil
}

func positiveOr(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDefaultMillis reads a millisecond count. Non-positive values fall
// back to the default.
func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	ms := envOrDefaultInt(key, -1)
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultList splits a comma separated value.
func envOrDefaultList(key string, fallback []string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
