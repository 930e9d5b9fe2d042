package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wakeassist/internal/domain"
	"wakeassist/internal/ports"
)

const (
	defaultBaseURL = "https://api.deepgram.com/v1"
	defaultModel   = "nova-2"

	closeStreamMessage = `{"type":"CloseStream"}`
)

var errSendClosed = errors.New("audio stream is already closed")

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// VADEvents requests SpeechStarted and UtteranceEnd messages.
	VADEvents bool
	// UtteranceEndMs is sent as utterance_end_ms when VADEvents is set.
	UtteranceEndMs int
}

// Provider opens live transcription sessions against the Deepgram listen
// endpoint. It implements ports.TranscriptionProvider.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	wsURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram handshake rejected (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	s := newListenSession(conn)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// listenSession is one open listen socket. Audio goes out through a single
// writer goroutine; provider messages are decoded by a single reader and
// delivered in order without dropping.
type listenSession struct {
	conn *websocket.Conn

	events  chan domain.TranscriptEvent
	audio   chan []byte
	closing chan struct{}
	done    chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	sendMu     sync.RWMutex
	sendClosed bool
	closeOnce  sync.Once
}

func newListenSession(conn *websocket.Conn) *listenSession {
	s := &listenSession{
		conn:    conn,
		events:  make(chan domain.TranscriptEvent, 64),
		audio:   make(chan []byte, 32),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

// SendAudio queues a copy of chunk. The read lock is held across the send so
// CloseSend cannot close the queue underneath it.
func (s *listenSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errSendClosed
	}

	select {
	case s.audio <- append([]byte(nil), chunk...):
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

// CloseSend ends the audio stream. The writer then sends CloseStream so the
// provider flushes its last results before closing the socket.
func (s *listenSession) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.audio)
	}
	return nil
}

func (s *listenSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *listenSession) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close tears the socket down without waiting for pending results.
func (s *listenSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.Close()
	})
	_ = s.CloseSend()
	<-s.done
	return s.waitErr()
}

func (s *listenSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *listenSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}
	select {
	case <-s.closing:
		// Reads fail once Close has shut the socket.
		return
	default:
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *listenSession) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.setErr(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(closeStreamMessage)); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *listenSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		var msg listenMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Type == "Error" {
			s.setErr(msg.err())
			_ = s.conn.Close()
			return
		}
		if event, ok := toEvent(msg); ok && !s.emit(event) {
			return
		}
	}
}

// emit blocks until the consumer takes event or the session is closed.
func (s *listenSession) emit(event domain.TranscriptEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.closing:
		return false
	}
}

// listenMessage is the subset of the listen socket's JSON messages the
// recognizer consumes: Results, SpeechStarted, UtteranceEnd and Error.
type listenMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Description string `json:"description"`
	Message     string `json:"message"`
	Variant     string `json:"variant"`
}

func (m listenMessage) transcript() string {
	if len(m.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(m.Channel.Alternatives[0].Transcript)
}

func (m listenMessage) err() error {
	text := strings.TrimSpace(m.Description)
	if text == "" {
		text = strings.TrimSpace(m.Message)
	}
	if text == "" {
		text = "unknown error"
	}
	if m.Variant != "" {
		return fmt.Errorf("deepgram %s: %s", m.Variant, text)
	}
	return fmt.Errorf("deepgram: %s", text)
}

// toEvent maps one provider message onto a transcript event. Metadata and
// empty results produce nothing.
func toEvent(msg listenMessage) (domain.TranscriptEvent, bool) {
	switch msg.Type {
	case "SpeechStarted":
		return domain.TranscriptEvent{Kind: domain.TranscriptKindSpeechStarted}, true
	case "UtteranceEnd":
		return domain.TranscriptEvent{Kind: domain.TranscriptKindUtteranceEnd, IsSpeechFinal: true}, true
	}

	text := msg.transcript()
	if text == "" {
		return domain.TranscriptEvent{}, false
	}
	kind := domain.TranscriptKindPartial
	if msg.IsFinal || msg.SpeechFinal {
		kind = domain.TranscriptKindFinal
	}
	return domain.TranscriptEvent{Kind: kind, Text: text, IsSpeechFinal: msg.SpeechFinal}, true
}

// buildListenURL converts the REST base into the websocket listen URL and
// encodes the stream settings, the command keywords and the VAD options.
func buildListenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	listenURL, err := url.Parse(websocketBase(providerCfg.APIBaseURL) + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	query := listenURL.Query()
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", strconv.Itoa(streamCfg.SampleRate))
	query.Set("channels", strconv.Itoa(streamCfg.Channels))
	query.Set("interim_results", strconv.FormatBool(streamCfg.InterimResults))
	query.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	if providerCfg.Language != "" {
		query.Set("language", providerCfg.Language)
	}
	for _, keyword := range streamCfg.Keywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			query.Add("keywords", keyword)
		}
	}
	if providerCfg.VADEvents {
		query.Set("vad_events", "true")
		if providerCfg.UtteranceEndMs > 0 {
			query.Set("utterance_end_ms", strconv.Itoa(providerCfg.UtteranceEndMs))
		}
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}

func websocketBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = defaultBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/")
}
