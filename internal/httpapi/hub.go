// Package httpapi is the headless host surface: a gin router for start,
// stop and status, and a websocket hub that streams assistant events.
package httpapi

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wakeassist/internal/domain"
	"wakeassist/internal/ports"
)

// Event types streamed on /v1/events.
const (
	EventState   = "state"
	EventCommand = "command"
	EventError   = "error"
	EventPopup   = "popup"
)

// Event is one websocket message.
type Event struct {
	Type    string                `json:"type"`
	Time    time.Time             `json:"time"`
	State   domain.AssistantState `json:"state,omitempty"`
	Reason  domain.StateReason    `json:"reason,omitempty"`
	Text    string                `json:"text,omitempty"`
	Success bool                  `json:"success,omitempty"`
	Code    domain.ErrorCode      `json:"code,omitempty"`
	Detail  string                `json:"detail,omitempty"`
	Visible bool                  `json:"visible,omitempty"`
}

const clientBuffer = 64

type client struct {
	conn *wsConn
	send chan []byte
}

// Hub fans assistant events out to websocket clients. It is the EventSink
// and the NotificationSink of the headless host: the popup is a pair of
// popup events and a visibility flag.
type Hub struct {
	logger ports.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	visible bool
	text    string
	closed  bool
}

func NewHub(logger ports.Logger) *Hub {
	return &Hub{
		logger:  logger,
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) StateChanged(state domain.AssistantState, reason domain.StateReason) {
	h.broadcast(Event{Type: EventState, State: state, Reason: reason})
}

func (h *Hub) CommandRecognized(text string, success bool) {
	h.broadcast(Event{Type: EventCommand, Text: text, Success: success})
}

func (h *Hub) AssistantError(code domain.ErrorCode, detail string) {
	h.broadcast(Event{Type: EventError, Code: code, Detail: detail})
}

func (h *Hub) Show(text string) {
	h.mu.Lock()
	h.visible = true
	h.text = text
	h.mu.Unlock()
	h.logger.Infof("popup: %s", text)
	h.broadcast(Event{Type: EventPopup, Text: text, Visible: true})
}

func (h *Hub) Hide() {
	h.mu.Lock()
	wasVisible := h.visible
	h.visible = false
	h.text = ""
	h.mu.Unlock()
	if wasVisible {
		h.broadcast(Event{Type: EventPopup})
	}
}

func (h *Hub) IsVisible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

// Popup returns the text on screen, if any.
func (h *Hub) Popup() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.text, h.visible
}

// Clients reports the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// serve registers conn and blocks until the peer disconnects or the hub is
// closed.
func (h *Hub) serve(conn *wsConn) {
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	readDone := make(chan struct{})
	go func() {
		conn.drain()
		close(readDone)
	}()

	defer func() {
		h.remove(c)
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}

func (h *Hub) broadcast(event Event) {
	event.Time = h.now()
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorf("encode event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// A client that cannot keep up is dropped rather than stalling
			// the polling loop.
			h.logger.Warnf("dropping slow event client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

var (
	_ ports.EventSink        = (*Hub)(nil)
	_ ports.NotificationSink = (*Hub)(nil)
)
