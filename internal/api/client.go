package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"razgovor/internal/auth"
	"razgovor/internal/models"
)

var ErrMalformedResponse = errors.New("malformed response")

// Client exposes the backend REST endpoints on top of a Gateway.
type Client struct {
	gw *Gateway
}

func NewClient(gw *Gateway) *Client {
	return &Client{gw: gw}
}

// New builds a Client whose authenticated calls refresh through a
// RefreshCoordinator that writes to store.
func New(baseURL string, store *auth.CredentialStore, timeout time.Duration, log *slog.Logger) (*Client, *auth.RefreshCoordinator) {
	gw := NewGateway(baseURL, store, timeout, log)
	c := NewClient(gw)
	rc := auth.NewRefreshCoordinator(store, c.Refresh, log)
	gw.SetRefresher(rc)
	return c, rc
}

func (c *Client) Gateway() *Gateway {
	return c.gw
}

// Signup registers a new account. It never carries credentials.
func (c *Client) Signup(ctx context.Context, req models.SignupRequest) (string, error) {
	var env models.Envelope
	err := c.gw.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "signup",
		Body:   req,
		Result: &env,
	})
	return env.Message, err
}

func (c *Client) Login(ctx context.Context, req models.LoginRequest) (models.CredentialPair, error) {
	var env models.Envelope
	err := c.gw.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "login",
		Body:   req,
		Result: &env,
	})
	if err != nil {
		return models.CredentialPair{}, err
	}
	return pairOf(env)
}

// Refresh exchanges a refresh token for a new pair. It bypasses the
// refresh path of the gateway.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (models.CredentialPair, error) {
	var env models.Envelope
	err := c.gw.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "refresh",
		Body:   models.RefreshRequest{RefreshToken: refreshToken},
		Result: &env,
	})
	if err != nil {
		return models.CredentialPair{}, err
	}
	return pairOf(env)
}

func (c *Client) Logout(ctx context.Context, refreshToken string) (string, error) {
	var env models.Envelope
	err := c.gw.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "logout",
		Body:   models.RefreshRequest{RefreshToken: refreshToken},
		Result: &env,
	})
	return env.Message, err
}

func (c *Client) Profile(ctx context.Context) (models.User, error) {
	var env models.Envelope
	err := c.gw.Do(ctx, Call{
		Method:        http.MethodGet,
		Path:          "user_profile",
		Result:        &env,
		Authenticated: true,
	})
	if err != nil {
		return models.User{}, err
	}
	if env.User == nil || env.User.ID == "" {
		return models.User{}, ErrMalformedResponse
	}
	return *env.User, nil
}

func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	var env models.Envelope
	err := c.gw.Do(ctx, Call{
		Method:        http.MethodGet,
		Path:          "users",
		Result:        &env,
		Authenticated: true,
	})
	return env.Users, err
}

func (c *Client) History(ctx context.Context, user1, user2 string) ([]models.Message, error) {
	var env models.Envelope
	err := c.gw.Do(ctx, Call{
		Method:        http.MethodGet,
		Path:          "chat/history/{user1}/{user2}",
		PathParams:    map[string]string{"user1": user1, "user2": user2},
		Result:        &env,
		Authenticated: true,
	})
	return env.Messages, err
}

// Send persists a message. The returned message is the server's copy when
// it echoes one back, otherwise msg itself.
func (c *Client) Send(ctx context.Context, msg models.Message) (models.Message, error) {
	var env models.Envelope
	err := c.gw.Do(ctx, Call{
		Method:        http.MethodPost,
		Path:          "chat/send",
		Body:          msg,
		Result:        &env,
		Authenticated: true,
	})
	if err != nil {
		return models.Message{}, err
	}
	if env.MessageData != nil {
		return *env.MessageData, nil
	}
	return msg, nil
}

func pairOf(env models.Envelope) (models.CredentialPair, error) {
	pair := models.CredentialPair{AccessToken: env.AccessToken, RefreshToken: env.RefreshToken}
	if !pair.Valid() {
		return models.CredentialPair{}, ErrMalformedResponse
	}
	return pair, nil
}
