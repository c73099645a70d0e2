package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"razgovor/internal/devserver"
	"razgovor/internal/models"
	"razgovor/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type testBackend struct {
	srv *httptest.Server
	dev *devserver.Server
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	db, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "devserver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dev, err := devserver.New(ctx, devserver.AuthConfig{Secret: "test-secret"}, db, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(dev.API, dev.Sockets))
	t.Cleanup(srv.Close)

	return &testBackend{srv: srv, dev: dev}
}

func (b *testBackend) do(t *testing.T, method, path, token string, body any) (int, models.Envelope) {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, b.srv.URL+"/api/"+path, &payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env models.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.Equal(t, resp.StatusCode, env.Status)
	return resp.StatusCode, env
}

// register signs up and logs in, returning the profile and access token.
func (b *testBackend) register(t *testing.T, name string) (models.User, string) {
	t.Helper()

	status, _ := b.do(t, http.MethodPost, "signup", "", models.SignupRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "secret1",
	})
	require.Equal(t, http.StatusCreated, status)

	status, env := b.do(t, http.MethodPost, "login", "", models.LoginRequest{
		Email:    name + "@example.com",
		Password: "secret1",
	})
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, env.AccessToken)
	require.NotEmpty(t, env.RefreshToken)

	status, env2 := b.do(t, http.MethodGet, "user_profile", env.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, env2.User)
	require.Equal(t, name, env2.User.DisplayName)

	return *env2.User, env.AccessToken
}

func TestRouter_Auth(t *testing.T) {
	b := newTestBackend(t)
	b.register(t, "alice")

	t.Run("DuplicateSignup", func(t *testing.T) {
		status, env := b.do(t, http.MethodPost, "signup", "", models.SignupRequest{
			Username: "alice",
			Email:    "alice@example.com",
			Password: "secret1",
		})
		require.Equal(t, http.StatusConflict, status)
		require.NotEmpty(t, env.Message)
	})

	t.Run("InvalidSignup", func(t *testing.T) {
		status, _ := b.do(t, http.MethodPost, "signup", "", models.SignupRequest{Username: "x"})
		require.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		status, _ := b.do(t, http.MethodPost, "login", "", models.LoginRequest{
			Email:    "alice@example.com",
			Password: "nope",
		})
		require.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("MissingBearer", func(t *testing.T) {
		status, _ := b.do(t, http.MethodGet, "users", "", nil)
		require.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("RefreshAndLogout", func(t *testing.T) {
		status, env := b.do(t, http.MethodPost, "login", "", models.LoginRequest{
			Email:    "alice@example.com",
			Password: "secret1",
		})
		require.Equal(t, http.StatusOK, status)

		status, next := b.do(t, http.MethodPost, "refresh", "", models.RefreshRequest{RefreshToken: env.RefreshToken})
		require.Equal(t, http.StatusOK, status)
		require.NotEqual(t, env.RefreshToken, next.RefreshToken)

		status, _ = b.do(t, http.MethodPost, "refresh", "", models.RefreshRequest{RefreshToken: env.RefreshToken})
		require.Equal(t, http.StatusUnauthorized, status)

		status, _ = b.do(t, http.MethodPost, "logout", "", models.RefreshRequest{RefreshToken: next.RefreshToken})
		require.Equal(t, http.StatusOK, status)

		status, _ = b.do(t, http.MethodPost, "logout", "", models.RefreshRequest{RefreshToken: next.RefreshToken})
		require.Equal(t, http.StatusBadRequest, status)
	})
}

func TestRouter_Chat(t *testing.T) {
	b := newTestBackend(t)
	alice, aliceToken := b.register(t, "alice")
	bob, bobToken := b.register(t, "bob")
	_, eveToken := b.register(t, "eve")

	status, env := b.do(t, http.MethodGet, "users", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, env.Users, 3)
	require.Equal(t, "alice", env.Users[0].DisplayName)

	sentAt := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	status, env = b.do(t, http.MethodPost, "chat/send", aliceToken, models.Message{
		Sender:    alice.ID,
		Recipient: bob.ID,
		Content:   "  hi bob  ",
		CreatedAt: sentAt,
	})
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, env.MessageData)
	require.Equal(t, "hi bob", env.MessageData.Content)
	require.True(t, env.MessageData.CreatedAt.Equal(models.Stamp(sentAt)))

	status, _ = b.do(t, http.MethodPost, "chat/send", bobToken, models.Message{
		Sender:    alice.ID,
		Recipient: bob.ID,
		Content:   "spoofed",
	})
	require.Equal(t, http.StatusForbidden, status)

	status, _ = b.do(t, http.MethodPost, "chat/send", bobToken, models.Message{
		Recipient: "nobody",
		Content:   "hello?",
	})
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = b.do(t, http.MethodPost, "chat/send", bobToken, models.Message{
		Recipient: alice.ID,
		Content:   "   ",
	})
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = b.do(t, http.MethodPost, "chat/send", bobToken, models.Message{
		Recipient: alice.ID,
		Content:   "hey alice",
	})
	require.Equal(t, http.StatusOK, status)

	status, env = b.do(t, http.MethodGet, "chat/history/"+bob.ID+"/"+alice.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, env.Messages, 2)
	require.Equal(t, "hi bob", env.Messages[0].Content)
	require.Equal(t, "hey alice", env.Messages[1].Content)

	status, _ = b.do(t, http.MethodGet, "chat/history/"+alice.ID+"/"+bob.ID, eveToken, nil)
	require.Equal(t, http.StatusForbidden, status)
}

func TestRouter_Socket(t *testing.T) {
	b := newTestBackend(t)
	alice, aliceToken := b.register(t, "alice")
	bob, bobToken := b.register(t, "bob")

	wsURL := "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/socket"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dial := func(user models.User, token string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		require.NoError(t, conn.WriteJSON(models.ClientEvent{Type: models.ClientEventJoin, UserID: user.ID}))
		return conn
	}

	aliceConn := dial(alice, aliceToken)
	bobConn := dial(bob, bobToken)

	require.Eventually(t, func() bool {
		return len(b.dev.Hub.Online()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	read := func(conn *websocket.Conn) models.ServerEvent {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev models.ServerEvent
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	require.NoError(t, aliceConn.WriteJSON(models.ClientEvent{
		Type:      models.ClientEventTyping,
		Sender:    alice.ID,
		Recipient: bob.ID,
	}))
	ev := read(bobConn)
	require.Equal(t, models.ServerEventTyping, ev.Type)
	require.Equal(t, alice.ID, ev.Sender)

	msg := models.Message{
		Sender:    alice.ID,
		Recipient: bob.ID,
		Content:   "over the channel",
		CreatedAt: models.Stamp(time.Now()),
	}
	require.NoError(t, aliceConn.WriteJSON(models.ClientEvent{Type: models.ClientEventSendMessage, Message: &msg}))

	for _, conn := range []*websocket.Conn{bobConn, aliceConn} {
		ev := read(conn)
		require.Equal(t, models.ServerEventMessage, ev.Type)
		require.NotNil(t, ev.Message)
		require.Equal(t, msg.Key(), ev.Message.Key())
	}
}
