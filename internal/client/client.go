// Package client wires the credential store, REST gateway, live channel
// and conversation sync of one signed-in process.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"razgovor/internal/api"
	"razgovor/internal/auth"
	"razgovor/internal/conversation"
	"razgovor/internal/models"
	"razgovor/internal/ws"

	"github.com/jonboulle/clockwork"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotLoggedIn      = errors.New("not logged in")
)

type Config struct {
	APIBaseURL     string
	ChannelURL     string
	RequestTimeout time.Duration
	TypingTimeout  time.Duration
	Clock          clockwork.Clock
	// Dialer defaults to a gorilla websocket dialer.
	Dialer ws.Dialer
	Log    *slog.Logger
}

// live is the state of one Connect call.
type live struct {
	session *ws.Session
	sync    *conversation.Sync
	cancel  context.CancelFunc
	done    chan struct{}
}

// Client owns one instance of every core component.
type Client struct {
	cfg       Config
	persister auth.Persister
	store     *auth.CredentialStore
	api       *api.Client
	log       *slog.Logger

	mu   sync.Mutex
	self models.User
	live *live
}

// New loads any persisted credentials from persister and builds the REST
// side. The channel is opened later by Connect.
func New(cfg Config, persister auth.Persister) (*Client, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = ws.WebsocketDialer{}
	}

	store, err := auth.NewCredentialStore(persister)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		persister: persister,
		store:     store,
		log:       cfg.Log,
	}
	c.api, _ = api.New(cfg.APIBaseURL, store, cfg.RequestTimeout, cfg.Log)
	c.api.Gateway().OnRefreshFailed = c.endSession
	return c, nil
}

// LoggedIn reports whether a credential pair is stored.
func (c *Client) LoggedIn() bool {
	_, ok := c.store.Get()
	return ok
}

func (c *Client) Signup(ctx context.Context, req models.SignupRequest) (string, error) {
	return c.api.Signup(ctx, req)
}

// Login authenticates and stores the issued pair.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) error {
	pair, err := c.api.Login(ctx, req)
	if err != nil {
		return err
	}
	if err := c.store.Set(pair); err != nil {
		return err
	}
	c.log.Info("logged in", "email", req.Email)
	return nil
}

// Logout revokes the stored refresh token and clears the store. The store
// is cleared whatever the server answers; a server error is returned after
// clearing.
func (c *Client) Logout(ctx context.Context) error {
	c.Disconnect()

	pair, ok := c.store.Get()
	var serverErr error
	if ok {
		if _, serverErr = c.api.Logout(ctx, pair.RefreshToken); serverErr != nil {
			c.log.Warn("logout rejected by server", "error", serverErr)
		}
	}

	if err := c.store.Clear(); err != nil {
		return err
	}
	c.mu.Lock()
	c.self = models.User{}
	c.mu.Unlock()
	return serverErr
}

// Profile fetches the signed-in user.
func (c *Client) Profile(ctx context.Context) (models.User, error) {
	if !c.LoggedIn() {
		return models.User{}, ErrNotLoggedIn
	}
	u, err := c.api.Profile(ctx)
	if err != nil {
		return models.User{}, err
	}
	c.mu.Lock()
	c.self = u
	c.mu.Unlock()
	return u, nil
}

func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	if !c.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	return c.api.Users(ctx)
}

// History fetches the stored conversation with peer without selecting it.
func (c *Client) History(ctx context.Context, peer string) ([]models.Message, error) {
	self, err := c.whoami(ctx)
	if err != nil {
		return nil, err
	}
	return c.api.History(ctx, self.ID, peer)
}

// SendTo persists one message to peer over REST only. Use Send on a
// connected client to also deliver it live.
func (c *Client) SendTo(ctx context.Context, peer, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, conversation.ErrEmptyMessage
	}
	self, err := c.whoami(ctx)
	if err != nil {
		return models.Message{}, err
	}
	return c.api.Send(ctx, models.Message{
		Sender:    self.ID,
		Recipient: peer,
		Content:   content,
		CreatedAt: models.Stamp(c.cfg.Clock.Now()),
	})
}

// Connect opens the live channel as the signed-in user and starts
// applying its events to the conversation.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != nil {
		return ErrAlreadyConnected
	}
	if !c.LoggedIn() {
		return ErrNotLoggedIn
	}

	self, err := c.api.Profile(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch profile: %w", err)
	}
	c.self = self

	session := ws.NewSession(c.cfg.Dialer, c.cfg.ChannelURL, self.ID, c.accessToken, c.log)
	conv := conversation.New(self.ID, c.api, session, conversation.Config{
		Clock:         c.cfg.Clock,
		TypingTimeout: c.cfg.TypingTimeout,
		Log:           c.log,
	})
	if err := session.Open(ctx); err != nil {
		conv.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l := &live{
		session: session,
		sync:    conv,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(l.done)
		_ = conv.Run(runCtx, session.Events())
	}()
	c.live = l
	return nil
}

// Disconnect closes the channel and stops the sync loop. It is a no-op
// when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	l := c.live
	c.live = nil
	c.mu.Unlock()
	if l == nil {
		return
	}

	if err := l.session.Close(); err != nil {
		c.log.Debug("channel close failed", "error", err)
	}
	l.cancel()
	<-l.done
	l.sync.Close()
}

// Close disconnects and releases the credential database.
func (c *Client) Close() error {
	c.Disconnect()
	if closer, ok := c.persister.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Client) Self() models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) State() models.ConnectionState {
	l := c.current()
	if l == nil {
		return models.Disconnected
	}
	return l.session.State()
}

func (c *Client) SelectPeer(ctx context.Context, peer string) error {
	l := c.current()
	if l == nil {
		return ErrNotConnected
	}
	return l.sync.SelectPeer(ctx, peer)
}

func (c *Client) Send(ctx context.Context, content string) (models.Message, error) {
	l := c.current()
	if l == nil {
		return models.Message{}, ErrNotConnected
	}
	return l.sync.Send(ctx, content)
}

func (c *Client) Keystroke() error {
	l := c.current()
	if l == nil {
		return ErrNotConnected
	}
	return l.sync.Keystroke()
}

func (c *Client) Transcript() []models.Message {
	l := c.current()
	if l == nil {
		return nil
	}
	return l.sync.Transcript()
}

func (c *Client) Typing() models.TypingState {
	l := c.current()
	if l == nil {
		return models.TypingState{}
	}
	return l.sync.Typing()
}

// Changes signals transcript and typing updates of the connected
// conversation. It returns nil when not connected.
func (c *Client) Changes() <-chan struct{} {
	l := c.current()
	if l == nil {
		return nil
	}
	return l.sync.Changes()
}

func (c *Client) current() *live {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *Client) whoami(ctx context.Context) (models.User, error) {
	if self := c.Self(); self.ID != "" {
		return self, nil
	}
	return c.Profile(ctx)
}

func (c *Client) accessToken() string {
	pair, _ := c.store.Get()
	return pair.AccessToken
}

// endSession clears the store after a refresh the server refused. A
// refresh that never reached the server keeps the pair for a later try.
func (c *Client) endSession(err error) {
	if errors.Is(err, models.ErrNetwork) {
		c.log.Warn("refresh unreachable, keeping credentials", "error", err)
		return
	}
	c.log.Warn("session ended, clearing credentials", "error", err)
	if err := c.store.Clear(); err != nil {
		c.log.Error("failed to clear credentials", "error", err)
	}
}
