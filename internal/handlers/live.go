package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tidewatch/internal/hub"
	"tidewatch/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// dashboards are served from other origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LiveHandler upgrades GET /ws to a websocket subscribed to the hub.
type LiveHandler struct {
	hub          *hub.Hub
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

func NewLiveHandler(h *hub.Hub, writeTimeout, idleTimeout time.Duration) *LiveHandler {
	return &LiveHandler{hub: h, writeTimeout: writeTimeout, idleTimeout: idleTimeout}
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.WithRequestID(r.Header.Get("X-Request-ID"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	log.Info().Str("remote_addr", r.RemoteAddr).Msg("live subscriber connected")
	if err := h.hub.ServeWebsocket(conn, h.writeTimeout, h.idleTimeout); err != nil {
		log.Warn().Err(err).Msg("live subscriber rejected")
		return
	}
	log.Info().Str("remote_addr", r.RemoteAddr).Msg("live subscriber disconnected")
}
