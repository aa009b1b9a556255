package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rampart-ai/rampart/pkg/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway fronts API clients, not browsers on a shared origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStreamSession upgrades the connection and hands it to a relay
// session. The session authenticates itself with its first frame; HTTP
// headers are not consulted.
func (s *Server) handleStreamSession(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sess := relay.NewSession(conn, s.resolver, s.limiter, s.dispatcher, s.cfg.Session.IdleTimeout, s.metrics)
	sess.Run(r.Context())
}
