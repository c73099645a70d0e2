package devserver

import (
	"log/slog"
	"net/http"

	"razgovor/internal/ws"

	"github.com/gorilla/websocket"
)

// SocketServer upgrades authenticated requests to channel connections.
type SocketServer struct {
	auth     *AuthService
	hub      *ws.Hub
	upgrader *websocket.Upgrader
	log      *slog.Logger
}

func NewSocketServer(auth *AuthService, hub *ws.Hub, log *slog.Logger) *SocketServer {
	if log == nil {
		log = slog.Default()
	}
	return &SocketServer{
		auth: auth,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // terminal clients send no Origin
			},
		},
		log: log,
	}
}

func (s *SocketServer) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Verify(bearerToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading to websocket", "user_id", userID, "error", err)
		return
	}

	c := ws.NewConnection(s.hub, conn, userID, s.log)
	if err := c.Handle(r.Context()); err != nil {
		s.log.Debug("channel connection closed", "user_id", userID, "error", err)
	}
}
