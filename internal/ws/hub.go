package ws

import (
	"log/slog"
	"sort"
	"sync"

	"razgovor/internal/models"
)

const outboundQueueSize = 100

// Hub routes channel frames between joined users.
type Hub struct {
	// Map of userID -> outbound queue of the joined connection
	connectedUsers map[string]chan models.ServerEvent

	log *slog.Logger
	mu  sync.RWMutex
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		connectedUsers: make(map[string]chan models.ServerEvent),
		log:            log,
	}
}

// Join registers userID and returns its outbound queue. A second join for
// the same user replaces the first; the old queue is closed.
func (h *Hub) Join(userID string) chan models.ServerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.connectedUsers[userID]; ok {
		close(old)
	}
	ch := make(chan models.ServerEvent, outboundQueueSize)
	h.connectedUsers[userID] = ch
	return ch
}

// Leave unregisters ch if it is still the queue of userID.
func (h *Hub) Leave(userID string, ch chan models.ServerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.connectedUsers[userID]; ok && cur == ch {
		close(cur)
		delete(h.connectedUsers, userID)
	}
}

// Dispatch routes a frame sent by userID. Messages go to the recipient and
// back to the sender; typing signals go to the recipient only.
func (h *Hub) Dispatch(userID string, ev models.ClientEvent) {
	switch ev.Type {
	case models.ClientEventSendMessage:
		if ev.Message == nil || ev.Message.Recipient == "" {
			return
		}
		msg := *ev.Message
		msg.Sender = userID
		out := models.ServerEvent{Type: models.ServerEventMessage, Message: &msg}
		h.deliver(msg.Recipient, out)
		if msg.Recipient != userID {
			h.deliver(userID, out)
		}
	case models.ClientEventTyping:
		h.deliver(ev.Recipient, models.ServerEvent{Type: models.ServerEventTyping, Sender: userID})
	case models.ClientEventStopTyping:
		h.deliver(ev.Recipient, models.ServerEvent{Type: models.ServerEventStopTyping, Sender: userID})
	}
}

// Online returns the ids of joined users, sorted.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.connectedUsers))
	for id := range h.connectedUsers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) deliver(userID string, ev models.ServerEvent) {
	// Read lock is held across the send so Leave cannot close the queue
	// underneath it.
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, online := h.connectedUsers[userID]
	if !online {
		return
	}
	select {
	case ch <- ev:
	default:
		h.log.Warn("outbound queue full, dropping frame", "user_id", userID, "type", ev.Type)
	}
}
