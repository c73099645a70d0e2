package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"razgovor/internal/models"
)

var (
	ErrJoinMismatch = errors.New("join user does not match authenticated user")
	errReplaced     = errors.New("connection replaced by a newer join")
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type messageHub interface {
	Join(userID string) chan models.ServerEvent
	Leave(userID string, ch chan models.ServerEvent)
	Dispatch(userID string, ev models.ClientEvent)
}

// Connection is the server side of one channel socket. Frames other than
// join are ignored until the client has joined as its authenticated user.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	userID     string
	log        *slog.Logger
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	userID string,
	log *slog.Logger,
) *Connection {
	if log == nil {
		log = slog.Default()
	}
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		log:        log.With("user_id", userID),
		fromClient: make(chan models.ClientEvent),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		if c.fromServer != nil {
			c.hub.Leave(c.userID, c.fromServer)
		}
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientEvent
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		// fromServer is nil until join, which blocks this case.
		select {
		case msg := <-c.fromClient:
			if err := c.processClientMessage(msg); err != nil {
				return err
			}
		case msg, ok := <-c.fromServer:
			if !ok {
				c.fromServer = nil
				return errReplaced
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientMessage(msg models.ClientEvent) error {
	if msg.Type == models.ClientEventJoin {
		if msg.UserID != c.userID {
			return ErrJoinMismatch
		}
		if c.fromServer == nil {
			c.fromServer = c.hub.Join(c.userID)
			c.log.Info("user joined channel")
		}
		return nil
	}

	if c.fromServer == nil {
		c.log.Debug("frame before join ignored", "type", msg.Type)
		return nil
	}

	switch msg.Type {
	case models.ClientEventSendMessage, models.ClientEventTyping, models.ClientEventStopTyping:
		c.hub.Dispatch(c.userID, msg)
	}

	return nil
}
