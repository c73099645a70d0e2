// Package conversation reconciles REST history and live channel events into
// the transcript of the active conversation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"razgovor/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
)

const DefaultTypingTimeout = 2 * time.Second

var (
	ErrNoPeer       = errors.New("no conversation selected")
	ErrEmptyMessage = errors.New("message content is empty")
)

// API is the durable side: history and persistence of sent messages.
type API interface {
	History(ctx context.Context, user1, user2 string) ([]models.Message, error)
	Send(ctx context.Context, msg models.Message) (models.Message, error)
}

// Emitter is the outbound side of the live channel.
type Emitter interface {
	Emit(ev models.ClientEvent) error
}

type Config struct {
	Clock         clockwork.Clock
	TypingTimeout time.Duration
	Log           *slog.Logger
}

// Sync owns the transcript and typing state of the active conversation.
type Sync struct {
	self    string
	api     API
	channel Emitter
	clock   clockwork.Clock
	timeout time.Duration
	log     *slog.Logger

	changes chan struct{}

	mu         sync.Mutex
	peer       string
	generation uint64
	loading    bool
	transcript []models.Message
	seen       map[string]struct{}
	// live messages that arrived while history was loading
	pending []models.Message

	typing      models.TypingState
	typingTimer clockwork.Timer
	// outbound stop-typing timers, keyed by peer id
	stopTimers map[string]clockwork.Timer
}

func New(self string, api API, channel Emitter, cfg Config) *Sync {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Sync{
		self:       self,
		api:        api,
		channel:    channel,
		clock:      cfg.Clock,
		timeout:    cfg.TypingTimeout,
		log:        cfg.Log.With("component", "conversation", "user_id", self),
		changes:    make(chan struct{}, 1),
		seen:       make(map[string]struct{}),
		stopTimers: make(map[string]clockwork.Timer),
	}
}

// Changes signals that the transcript or typing state changed. Signals
// coalesce; read the snapshots after receiving one.
func (s *Sync) Changes() <-chan struct{} {
	return s.changes
}

func (s *Sync) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *Sync) Transcript() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transcript)
}

func (s *Sync) Typing() models.TypingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Loading reports whether the history of the active conversation is still
// being fetched.
func (s *Sync) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// SelectPeer makes peer the active conversation and loads its history.
// If another peer is selected before the fetch completes, the result is
// discarded.
func (s *Sync) SelectPeer(ctx context.Context, peer string) error {
	if peer == "" {
		return ErrNoPeer
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.peer = peer
	s.loading = true
	s.transcript = nil
	s.seen = make(map[string]struct{})
	s.pending = nil
	s.resetTypingLocked()
	s.notify()
	s.mu.Unlock()

	history, err := s.api.History(ctx, s.self, peer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.log.Debug("discarding stale history", "peer", peer)
		return nil
	}
	s.loading = false

	if err != nil {
		s.pending = nil
		return fmt.Errorf("failed to fetch history: %w", err)
	}

	s.transcript = nil
	s.seen = make(map[string]struct{})
	history = lo.Filter(history, func(m models.Message, _ int) bool {
		return m.Between(s.self, peer)
	})
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	for _, m := range history {
		s.insertLocked(m)
	}
	for _, m := range s.pending {
		s.insertLocked(m)
	}
	s.pending = nil
	s.notify()

	s.log.Debug("history loaded", "peer", peer, "messages", len(s.transcript))
	return nil
}

// Send persists content to the active peer, appends the persisted message
// and then emits it on the live channel.
func (s *Sync) Send(ctx context.Context, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	peer, gen := s.peer, s.generation
	s.mu.Unlock()
	if peer == "" {
		return models.Message{}, ErrNoPeer
	}

	msg := models.Message{
		Sender:    s.self,
		Recipient: peer,
		Content:   content,
		CreatedAt: models.Stamp(s.clock.Now()),
	}
	stored, err := s.api.Send(ctx, msg)
	if err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	if gen == s.generation {
		s.acceptLocked(stored)
	}
	s.mu.Unlock()

	// The message is durable at this point; a failed emit only costs the
	// recipient the live copy.
	if err := s.channel.Emit(models.ClientEvent{Type: models.ClientEventSendMessage, Message: &stored}); err != nil {
		s.log.Warn("failed to emit message", "peer", peer, "error", err)
	}
	return stored, nil
}

// Keystroke signals local typing to the active peer and re-arms the
// stop-typing emission.
func (s *Sync) Keystroke() error {
	peer := s.Peer()
	if peer == "" {
		return ErrNoPeer
	}

	if err := s.channel.Emit(models.ClientEvent{Type: models.ClientEventTyping, Sender: s.self, Recipient: peer}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.stopTimers[peer]; ok {
		t.Stop()
	}
	var t clockwork.Timer
	t = s.clock.AfterFunc(s.timeout, func() {
		s.mu.Lock()
		if s.stopTimers[peer] != t {
			s.mu.Unlock()
			return
		}
		delete(s.stopTimers, peer)
		s.mu.Unlock()

		if err := s.channel.Emit(models.ClientEvent{Type: models.ClientEventStopTyping, Sender: s.self, Recipient: peer}); err != nil {
			s.log.Debug("failed to emit stopTyping", "peer", peer, "error", err)
		}
	})
	s.stopTimers[peer] = t
	return nil
}

// Run applies channel events until ctx is done or events is closed.
func (s *Sync) Run(ctx context.Context, events <-chan models.ServerEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Handle(ev)
		}
	}
}

// Handle applies one channel event.
func (s *Sync) Handle(ev models.ServerEvent) {
	switch ev.Type {
	case models.ServerEventMessage:
		if ev.Message != nil {
			s.receive(*ev.Message)
		}
	case models.ServerEventTyping:
		s.peerTyping(ev.Sender)
	case models.ServerEventStopTyping:
		s.peerStoppedTyping(ev.Sender)
	case models.ServerEventDisconnect:
		s.mu.Lock()
		s.resetTypingLocked()
		s.notify()
		s.mu.Unlock()
		s.log.Info("channel disconnected")
	case models.ServerEventConnect:
		s.log.Debug("channel connected")
	}
}

// Close cancels every pending timer.
func (s *Sync) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetTypingLocked()
	for peer, t := range s.stopTimers {
		t.Stop()
		delete(s.stopTimers, peer)
	}
}

func (s *Sync) receive(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peer == "" || !msg.Between(s.self, s.peer) {
		return
	}
	s.acceptLocked(msg)
}

func (s *Sync) acceptLocked(msg models.Message) {
	if s.loading {
		s.pending = append(s.pending, msg)
	}
	if s.insertLocked(msg) {
		s.notify()
	}
}

// insertLocked places msg after every message with CreatedAt <= its own.
// Messages already in the transcript are ignored.
func (s *Sync) insertLocked(msg models.Message) bool {
	key := msg.Key()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}

	i := sort.Search(len(s.transcript), func(i int) bool {
		return s.transcript[i].CreatedAt.After(msg.CreatedAt)
	})
	s.transcript = slices.Insert(s.transcript, i, msg)
	return true
}

func (s *Sync) peerTyping(sender string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sender == "" || sender != s.peer {
		return
	}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typing = models.TypingState{PeerID: sender, IsTyping: true}

	var t clockwork.Timer
	t = s.clock.AfterFunc(s.timeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.typingTimer != t {
			return
		}
		s.typingTimer = nil
		s.typing.IsTyping = false
		s.notify()
	})
	s.typingTimer = t
	s.notify()
}

func (s *Sync) peerStoppedTyping(sender string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sender == "" || sender != s.peer {
		return
	}
	s.resetTypingLocked()
	s.notify()
}

func (s *Sync) resetTypingLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typing = models.TypingState{PeerID: s.peer}
}

func (s *Sync) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
