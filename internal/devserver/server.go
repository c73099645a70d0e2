// Package devserver is an in-process backend implementing the REST and
// channel contract the client core talks to.
package devserver

import (
	"context"
	"log/slog"

	"razgovor/internal/storage"
	"razgovor/internal/ws"
)

// Server bundles the backend components sharing one database.
type Server struct {
	Auth    *AuthService
	API     *API
	Sockets *SocketServer
	Hub     *ws.Hub
}

// New wires the backend on top of db. ctx bounds the refresh token cache.
func New(ctx context.Context, config AuthConfig, db *storage.BboltStorage, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	authService, err := NewAuthService(ctx, config, db, log)
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(log)
	return &Server{
		Auth:    authService,
		API:     NewAPI(authService, db, log),
		Sockets: NewSocketServer(authService, hub, log),
		Hub:     hub,
	}, nil
}
