package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"razgovor/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

type fakeAPI struct {
	mu      sync.Mutex
	history map[string][]models.Message
	gates   map[string]chan struct{}
	started chan string
	sent    []models.Message
	sendErr error
	histErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		history: make(map[string][]models.Message),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 10),
	}
}

func (f *fakeAPI) History(ctx context.Context, user1, user2 string) ([]models.Message, error) {
	f.mu.Lock()
	gate := f.gates[user2]
	f.mu.Unlock()

	f.started <- user2
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return nil, f.histErr
	}
	return append([]models.Message(nil), f.history[user2]...), nil
}

func (f *fakeAPI) Send(ctx context.Context, msg models.Message) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	f.sent = append(f.sent, msg)
	return msg, nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []models.ClientEvent
	err    error
}

func (f *fakeEmitter) Emit(ev models.ClientEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEmitter) ofType(typ models.ClientEventType) []models.ClientEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ClientEvent
	for _, ev := range f.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestSync(api API, em Emitter) (*Sync, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(base)
	return New("me", api, em, Config{Clock: clock}), clock
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func messageEvent(msg models.Message) models.ServerEvent {
	return models.ServerEvent{Type: models.ServerEventMessage, Message: &msg}
}

func TestSync_OrdersByCreatedAt(t *testing.T) {
	api := newFakeAPI()
	api.history["bob"] = []models.Message{
		{Sender: "bob", Recipient: "me", Content: "three", CreatedAt: at(3)},
		{Sender: "me", Recipient: "bob", Content: "one", CreatedAt: at(1)},
	}
	s, _ := newTestSync(api, &fakeEmitter{})

	require.NoError(t, s.SelectPeer(context.Background(), "bob"))
	s.Handle(messageEvent(models.Message{Sender: "bob", Recipient: "me", Content: "two", CreatedAt: at(2)}))

	require.Equal(t, []string{"one", "two", "three"}, contents(s.Transcript()))
}

func TestSync_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	s, _ := newTestSync(newFakeAPI(), &fakeEmitter{})
	require.NoError(t, s.SelectPeer(context.Background(), "bob"))

	s.Handle(messageEvent(models.Message{Sender: "bob", Recipient: "me", Content: "a", CreatedAt: at(1)}))
	s.Handle(messageEvent(models.Message{Sender: "me", Recipient: "bob", Content: "b", CreatedAt: at(1)}))
	s.Handle(messageEvent(models.Message{Sender: "bob", Recipient: "me", Content: "c", CreatedAt: at(1)}))

	require.Equal(t, []string{"a", "b", "c"}, contents(s.Transcript()))
}

func TestSync_SendThenEchoAppearsOnce(t *testing.T) {
	api := newFakeAPI()
	em := &fakeEmitter{}
	s, _ := newTestSync(api, em)
	require.NoError(t, s.SelectPeer(context.Background(), "bob"))

	sent, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "me", sent.Sender)
	require.Equal(t, "bob", sent.Recipient)
	require.Len(t, s.Transcript(), 1)

	emitted := em.ofType(models.ClientEventSendMessage)
	require.Len(t, emitted, 1)
	require.Equal(t, sent.Key(), emitted[0].Message.Key())

	// The hub echoes the frame back to the sender.
	s.Handle(messageEvent(*emitted[0].Message))
	require.Len(t, s.Transcript(), 1)

	// Same content at a later time is a different message.
	s.Handle(messageEvent(models.Message{Sender: "me", Recipient: "bob", Content: "hello", CreatedAt: sent.CreatedAt.Add(time.Second)}))
	require.Len(t, s.Transcript(), 2)
}

func TestSync_Send(t *testing.T) {
	t.Run("NoPeer", func(t *testing.T) {
		s, _ := newTestSync(newFakeAPI(), &fakeEmitter{})
		_, err := s.Send(context.Background(), "hi")
		require.ErrorIs(t, err, ErrNoPeer)
	})

	t.Run("Blank", func(t *testing.T) {
		s, _ := newTestSync(newFakeAPI(), &fakeEmitter{})
		require.NoError(t, s.SelectPeer(context.Background(), "bob"))
		_, err := s.Send(context.Background(), "   ")
		require.ErrorIs(t, err, ErrEmptyMessage)
	})

	t.Run("PersistFailure", func(t *testing.T) {
		api := newFakeAPI()
		api.sendErr = &models.APIError{Kind: models.ErrValidation, Status: 400, Message: "Recipient not found"}
		em := &fakeEmitter{}
		s, _ := newTestSync(api, em)
		require.NoError(t, s.SelectPeer(context.Background(), "bob"))

		_, err := s.Send(context.Background(), "hi")
		require.ErrorIs(t, err, models.ErrValidation)
		require.Empty(t, s.Transcript())
		require.Empty(t, em.ofType(models.ClientEventSendMessage))
	})

	t.Run("EmitFailureStillAppends", func(t *testing.T) {
		em := &fakeEmitter{err: errors.New("not joined")}
		s, _ := newTestSync(newFakeAPI(), em)
		require.NoError(t, s.SelectPeer(context.Background(), "bob"))

		_, err := s.Send(context.Background(), "hi")
		require.NoError(t, err)
		require.Len(t, s.Transcript(), 1)
	})
}

func TestSync_DropsOtherConversations(t *testing.T) {
	s, _ := newTestSync(newFakeAPI(), &fakeEmitter{})

	// Nothing is accepted before a peer is selected.
	s.Handle(messageEvent(models.Message{Sender: "bob", Recipient: "me", Content: "early", CreatedAt: at(0)}))

	require.NoError(t, s.SelectPeer(context.Background(), "bob"))
	s.Handle(messageEvent(models.Message{Sender: "carol", Recipient: "me", Content: "x", CreatedAt: at(1)}))
	s.Handle(messageEvent(models.Message{Sender: "bob", Recipient: "carol", Content: "y", CreatedAt: at(2)}))
	s.Handle(messageEvent(models.Message{Sender: "bob", Recipient: "me", Content: "z", CreatedAt: at(3)}))

	require.Equal(t, []string{"z"}, contents(s.Transcript()))
}

func TestSync_StaleHistoryDiscarded(t *testing.T) {
	api := newFakeAPI()
	api.history["bob"] = []models.Message{{Sender: "bob", Recipient: "me", Content: "from bob", CreatedAt: at(1)}}
	api.history["carol"] = []models.Message{{Sender: "carol", Recipient: "me", Content: "from carol", CreatedAt: at(1)}}
	bobGate := make(chan struct{})
	api.gates["bob"] = bobGate
	s, _ := newTestSync(api, &fakeEmitter{})

	bobDone := make(chan error, 1)
	go func() { bobDone <- s.SelectPeer(context.Background(), "bob") }()
	require.Equal(t, "bob", <-api.started)

	require.NoError(t, s.SelectPeer(context.Background(), "carol"))
	require.Equal(t, []string{"from carol"}, contents(s.Transcript()))

	close(bobGate)
	require.NoError(t, <-bobDone)

	require.Equal(t, "carol", s.Peer())
	require.Equal(t, []string{"from carol"}, contents(s.Transcript()))
	require.False(t, s.Loading())
}

func TestSync_LiveMessagesDuringFetch(t *testing.T) {
	api := newFakeAPI()
	api.history["bob"] = []models.Message{
		{Sender: "bob", Recipient: "me", Content: "old", CreatedAt: at(1)},
		{Sender: "bob", Recipient: "me", Content: "both", CreatedAt: at(2)},
	}
	gate := make(chan struct{})
	api.gates["bob"] = gate
	s, _ := newTestSync(api, &fakeEmitter{})

	done := make(chan error, 1)
	go func() { done <- s.SelectPeer(context.Background(), "bob") }()
	<-api.started
	require.True(t, s.Loading())

	s.Handle(messageEvent(models.Message{Sender: "bob", Recipient: "me", Content: "both", CreatedAt: at(2)}))
	s.Handle(messageEvent(models.Message{Sender: "bob", Recipient: "me", Content: "new", CreatedAt: at(3)}))

	close(gate)
	require.NoError(t, <-done)
	require.Equal(t, []string{"old", "both", "new"}, contents(s.Transcript()))
}

func TestSync_HistoryReplacesTranscript(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSync(api, &fakeEmitter{})

	require.NoError(t, s.SelectPeer(context.Background(), "bob"))
	s.Handle(messageEvent(models.Message{Sender: "bob", Recipient: "me", Content: "live", CreatedAt: at(5)}))
	require.Len(t, s.Transcript(), 1)

	api.history["bob"] = []models.Message{{Sender: "bob", Recipient: "me", Content: "durable", CreatedAt: at(1)}}
	require.NoError(t, s.SelectPeer(context.Background(), "bob"))
	require.Equal(t, []string{"durable"}, contents(s.Transcript()))
}

func TestSync_HistoryError(t *testing.T) {
	api := newFakeAPI()
	api.histErr = &models.APIError{Kind: models.ErrNetwork, Err: errors.New("connection refused")}
	s, _ := newTestSync(api, &fakeEmitter{})

	err := s.SelectPeer(context.Background(), "bob")
	require.ErrorIs(t, err, models.ErrNetwork)
	require.Equal(t, "bob", s.Peer())
	require.False(t, s.Loading())
	require.ErrorIs(t, s.SelectPeer(context.Background(), ""), ErrNoPeer)
}

func TestSync_PeerTypingDecays(t *testing.T) {
	s, clock := newTestSync(newFakeAPI(), &fakeEmitter{})
	require.NoError(t, s.SelectPeer(context.Background(), "bob"))

	s.Handle(models.ServerEvent{Type: models.ServerEventTyping, Sender: "carol"})
	require.False(t, s.Typing().IsTyping)

	s.Handle(models.ServerEvent{Type: models.ServerEventTyping, Sender: "bob"})
	require.Equal(t, models.TypingState{PeerID: "bob", IsTyping: true}, s.Typing())

	clock.Advance(1500 * time.Millisecond)
	s.Handle(models.ServerEvent{Type: models.ServerEventTyping, Sender: "bob"})
	clock.Advance(1500 * time.Millisecond)
	require.True(t, s.Typing().IsTyping, "typing restarts the expiry window")

	clock.Advance(500 * time.Millisecond)
	require.Eventually(t, func() bool { return !s.Typing().IsTyping }, time.Second, 5*time.Millisecond)
}

func TestSync_PeerStopTyping(t *testing.T) {
	s, _ := newTestSync(newFakeAPI(), &fakeEmitter{})
	require.NoError(t, s.SelectPeer(context.Background(), "bob"))

	s.Handle(models.ServerEvent{Type: models.ServerEventTyping, Sender: "bob"})
	s.Handle(models.ServerEvent{Type: models.ServerEventStopTyping, Sender: "carol"})
	require.True(t, s.Typing().IsTyping)

	s.Handle(models.ServerEvent{Type: models.ServerEventStopTyping, Sender: "bob"})
	require.False(t, s.Typing().IsTyping)

	s.Handle(models.ServerEvent{Type: models.ServerEventTyping, Sender: "bob"})
	s.Handle(models.ServerEvent{Type: models.ServerEventDisconnect})
	require.False(t, s.Typing().IsTyping)
}

func TestSync_KeystrokeEmitsStopAfterSilence(t *testing.T) {
	em := &fakeEmitter{}
	s, clock := newTestSync(newFakeAPI(), em)
	require.ErrorIs(t, s.Keystroke(), ErrNoPeer)
	require.NoError(t, s.SelectPeer(context.Background(), "bob"))

	require.NoError(t, s.Keystroke())
	clock.Advance(time.Second)
	require.NoError(t, s.Keystroke())
	clock.Advance(1500 * time.Millisecond)

	require.Len(t, em.ofType(models.ClientEventTyping), 2)
	require.Empty(t, em.ofType(models.ClientEventStopTyping))

	clock.Advance(500 * time.Millisecond)
	require.Eventually(t, func() bool {
		return len(em.ofType(models.ClientEventStopTyping)) == 1
	}, time.Second, 5*time.Millisecond)

	stop := em.ofType(models.ClientEventStopTyping)[0]
	require.Equal(t, "me", stop.Sender)
	require.Equal(t, "bob", stop.Recipient)
}

func TestSync_RunConsumesQueue(t *testing.T) {
	s, _ := newTestSync(newFakeAPI(), &fakeEmitter{})
	require.NoError(t, s.SelectPeer(context.Background(), "bob"))

	events := make(chan models.ServerEvent, 3)
	events <- models.ServerEvent{Type: models.ServerEventConnect}
	events <- messageEvent(models.Message{Sender: "bob", Recipient: "me", Content: "hi", CreatedAt: at(1)})
	close(events)

	require.NoError(t, s.Run(context.Background(), events))
	require.Equal(t, []string{"hi"}, contents(s.Transcript()))

	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a change notification")
	}
}
