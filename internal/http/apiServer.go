package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"razgovor/internal/devserver"
)

type APIServer struct {
	server *http.Server
	log    *slog.Logger
	wg     sync.WaitGroup
}

// NewRouter mounts the REST endpoints under /api/ and the channel at /socket.
func NewRouter(api *devserver.API, sockets *devserver.SocketServer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/signup", api.SignupHandler)
	mux.HandleFunc("POST /api/login", api.LoginHandler)
	mux.HandleFunc("POST /api/refresh", api.RefreshHandler)
	mux.HandleFunc("POST /api/logout", api.LogoutHandler)
	mux.HandleFunc("GET /api/user_profile", api.RequireAuth(api.ProfileHandler))
	mux.HandleFunc("GET /api/users", api.RequireAuth(api.UsersHandler))
	mux.HandleFunc("GET /api/chat/history/{user1}/{user2}", api.RequireAuth(api.HistoryHandler))
	mux.HandleFunc("POST /api/chat/send", api.RequireAuth(api.SendHandler))

	// WebSocket endpoint
	mux.HandleFunc("GET /socket", sockets.HandleConnections)

	return mux
}

// NewAPIServer serves handler on addr. Requests inherit ctx, so cancelling it
// also ends open channel connections.
func NewAPIServer(ctx context.Context, handler http.Handler, addr string, log *slog.Logger) *APIServer {
	if addr == "" {
		addr = ":5000"
	}
	if log == nil {
		log = slog.Default()
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: handler,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		},
		log: log,
	}
}

func (s *APIServer) Start() error {
	s.log.Info("server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
