package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnectionClosed = errors.New("websocket connection is closed")

// wsConn serializes writes on one websocket and closes it once.
type wsConn struct {
	conn     *websocket.Conn
	lock     sync.Mutex
	isClosed atomic.Bool
}

func upgrade(w http.ResponseWriter, r *http.Request) (*wsConn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	if c.isClosed.Load() {
		return ErrConnectionClosed
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.isClosed.Load() {
		return ErrConnectionClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.isClosed.Store(true)
		return ErrConnectionClosed
	}
	return nil
}

// drain reads until the peer goes away; clients never send anything we use.
func (c *wsConn) drain() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsConn) Close() error {
	if !c.isClosed.CompareAndSwap(false, true) {
		return nil
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection closed")
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	return c.conn.Close()
}
