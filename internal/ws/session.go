package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"razgovor/internal/models"

	"github.com/gorilla/websocket"
)

var (
	ErrAlreadyOpen = errors.New("channel session already open")
	ErrNotJoined   = errors.New("channel session not joined")
	ErrClosed      = errors.New("channel session closed")
)

const eventQueueSize = 64

// Conn is the part of *websocket.Conn a session needs.
type Conn interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// Dialer opens a Conn to the channel endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer adapts a gorilla dialer to Dialer.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// link is one established connection. A session holds at most one.
type link struct {
	conn Conn
	quit chan struct{}
}

// Session is the duplex live channel of one self user.
//
// It moves Disconnected -> Connecting -> Connected -> Joined on Open and
// back to Disconnected on Close or when the connection drops. It does not
// reconnect by itself.
type Session struct {
	dialer Dialer
	url    string
	userID string
	token  func() string
	log    *slog.Logger

	events chan models.ServerEvent

	mu    sync.Mutex
	state models.ConnectionState
	link  *link

	// gorilla connections support one concurrent writer.
	writeMu sync.Mutex
}

// NewSession creates a disconnected session for userID. token, if not nil,
// supplies the bearer credential attached to the handshake.
func NewSession(dialer Dialer, url, userID string, token func() string, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		dialer: dialer,
		url:    url,
		userID: userID,
		token:  token,
		log:    log.With("component", "channel", "user_id", userID),
		events: make(chan models.ServerEvent, eventQueueSize),
	}
}

// Events returns the inbound queue. It carries connect and disconnect
// signals along with server frames, in arrival order, and is never closed.
func (s *Session) Events() <-chan models.ServerEvent {
	return s.events
}

func (s *Session) State() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// JoinedUser returns the joined user id, or "" when not joined.
func (s *Session) JoinedUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.Joined {
		return ""
	}
	return s.userID
}

// Open connects and joins. It is only valid from Disconnected.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != models.Disconnected {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.state = models.Connecting
	s.mu.Unlock()

	header := http.Header{}
	if s.token != nil {
		if token := s.token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, err := s.dialer.Dial(ctx, s.url, header)
	if err != nil {
		s.setState(models.Connecting, models.Disconnected)
		return fmt.Errorf("failed to dial channel: %w", err)
	}

	l := &link{conn: conn, quit: make(chan struct{})}
	s.mu.Lock()
	if s.state != models.Connecting {
		// Closed while dialing.
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	s.state = models.Connected
	s.link = l
	s.mu.Unlock()

	if err := s.write(conn, models.ClientEvent{Type: models.ClientEventJoin, UserID: s.userID}); err != nil {
		s.teardown(l)
		return fmt.Errorf("failed to join channel: %w", err)
	}

	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = models.Joined
	s.mu.Unlock()

	s.log.Info("channel joined")
	go s.readPump(l)
	return nil
}

// Close moves the session to Disconnected. Calling it again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	l := s.link
	s.link = nil
	s.state = models.Disconnected
	s.mu.Unlock()

	if l == nil {
		return nil
	}
	close(l.quit)
	return l.conn.Close()
}

// Emit writes an outbound frame. No acknowledgement is awaited.
func (s *Session) Emit(ev models.ClientEvent) error {
	s.mu.Lock()
	if s.state != models.Joined || s.link == nil {
		s.mu.Unlock()
		return ErrNotJoined
	}
	conn := s.link.conn
	s.mu.Unlock()

	if err := s.write(conn, ev); err != nil {
		return fmt.Errorf("failed to emit %s: %w", ev.Type, err)
	}
	return nil
}

func (s *Session) write(conn Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (s *Session) setState(from, to models.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == from {
		s.state = to
	}
}

// teardown drops l if it is still the current link.
func (s *Session) teardown(l *link) bool {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return false
	}
	s.link = nil
	s.state = models.Disconnected
	s.mu.Unlock()

	close(l.quit)
	_ = l.conn.Close()
	return true
}

func (s *Session) readPump(l *link) {
	s.push(l, models.ServerEvent{Type: models.ServerEventConnect})

	for {
		var ev models.ServerEvent
		if err := l.conn.ReadJSON(&ev); err != nil {
			if s.teardown(l) {
				s.log.Warn("channel dropped", "error", err)
			}
			break
		}

		switch ev.Type {
		case models.ServerEventMessage:
			if ev.Message == nil {
				s.log.Warn("message frame without message")
				continue
			}
		case models.ServerEventTyping, models.ServerEventStopTyping:
		default:
			s.log.Debug("ignoring frame", "type", ev.Type)
			continue
		}
		if !s.push(l, ev) {
			break
		}
	}

	select {
	case s.events <- models.ServerEvent{Type: models.ServerEventDisconnect}:
	default:
		s.log.Warn("event queue full, disconnect signal dropped")
	}
}

// push queues ev unless l has been closed. Queue space wins over quit so a
// frame read before Close is still delivered.
func (s *Session) push(l *link, ev models.ServerEvent) bool {
	select {
	case s.events <- ev:
		return true
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-l.quit:
		return false
	}
}
