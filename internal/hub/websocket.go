package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Maximum message size accepted from a live client; clients only send
	// control frames.
	maxMessageSize = 512
	defaultIdle    = 60 * time.Second
	defaultWrite   = 10 * time.Second
)

// WebsocketSink writes frames to a websocket connection as text messages.
type WebsocketSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWebsocketSink wraps conn. writeTimeout <= 0 uses 10s.
func NewWebsocketSink(conn *websocket.Conn, writeTimeout time.Duration) *WebsocketSink {
	if writeTimeout <= 0 {
		writeTimeout = defaultWrite
	}
	return &WebsocketSink{conn: conn, writeTimeout: writeTimeout}
}

func (w *WebsocketSink) WriteFrame(frame []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a close frame and closes the connection.
func (w *WebsocketSink) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}

// ServeWebsocket subscribes conn to the hub and blocks until the client goes
// away, the idle timeout passes without a pong, or the subscriber is closed.
func (h *Hub) ServeWebsocket(conn *websocket.Conn, writeTimeout, idleTimeout time.Duration) error {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdle
	}

	sub, err := h.Subscribe(NewWebsocketSink(conn, writeTimeout))
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer h.Unsubscribe(sub)

	go h.pingLoop(sub, conn, idleTimeout)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sub.log.Debug().Err(err).Msg("websocket read ended")
			}
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}
}

// pingLoop keeps the peer's pongs coming. WriteControl may run concurrently
// with the delivery goroutine's writes.
func (h *Hub) pingLoop(sub *Subscriber, conn *websocket.Conn, idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-sub.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWrite)); err != nil {
				h.Unsubscribe(sub)
				return
			}
		}
	}
}
