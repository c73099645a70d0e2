package models

import (
	"fmt"
	"strings"
	"time"
)

// CredentialPair is the access/refresh token pair of one session.
// Both fields are present or both are absent.
type CredentialPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Valid reports whether both tokens are present.
func (p CredentialPair) Valid() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// User represents a user in the system.
type User struct {
	ID          string `json:"_id"`
	DisplayName string `json:"username"`
	Email       string `json:"email,omitempty"`
}

// Message represents a chat message between two users.
// Messages carry no server-assigned id; see Message.Key.
type Message struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key returns the identity of the message used for de-duplication.
// CreatedAt is compared at millisecond precision, which is what survives
// a JSON round trip through the backend.
func (m Message) Key() string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%s", m.Sender, m.Recipient, m.CreatedAt.UnixMilli(), m.Content)
}

// Between reports whether the message belongs to the conversation of a and b,
// in either direction.
func (m Message) Between(a, b string) bool {
	return (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a)
}

// Stamp returns t in the form used for locally created messages.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// ConversationID returns a deterministic id for the unordered pair {u1, u2}.
func ConversationID(u1, u2 string) string {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return "dm_" + u1 + "_" + u2
}

// ConversationMembers splits an id produced by ConversationID.
func ConversationMembers(id string) (string, string, bool) {
	rest, ok := strings.CutPrefix(id, "dm_")
	if !ok {
		return "", "", false
	}
	u1, u2, ok := strings.Cut(rest, "_")
	if !ok || u1 == "" || u2 == "" {
		return "", "", false
	}
	return u1, u2, true
}

// TypingState is the ephemeral typing presence of the active peer.
type TypingState struct {
	PeerID   string `json:"peerId"`
	IsTyping bool   `json:"isTyping"`
}

// ConnectionState is the state of the live channel.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Joined
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Joined:
		return "joined"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// ClientEvent represents a frame sent from the client over the channel.
type ClientEvent struct {
	Type      ClientEventType `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Message   *Message        `json:"message,omitempty"`
}

// ServerEvent represents a frame delivered to the client, or a transport
// signal synthesized by the channel session.
type ServerEvent struct {
	Type    ServerEventType `json:"type"`
	Sender  string          `json:"sender,omitempty"`
	Message *Message        `json:"message,omitempty"`
}

type ClientEventType string

const (
	ClientEventJoin        ClientEventType = "join"
	ClientEventSendMessage ClientEventType = "sendMessage"
	ClientEventTyping      ClientEventType = "typing"
	ClientEventStopTyping  ClientEventType = "stopTyping"
)

type ServerEventType string

const (
	ServerEventConnect    ServerEventType = "connect"
	ServerEventDisconnect ServerEventType = "disconnect"
	ServerEventMessage    ServerEventType = "message"
	ServerEventTyping     ServerEventType = "typing"
	ServerEventStopTyping ServerEventType = "stopTyping"
)

// Envelope is the JSON body shape shared by every REST endpoint.
// Only the fields relevant to an endpoint are populated.
type Envelope struct {
	Status       int       `json:"status"`
	Message      string    `json:"message,omitempty"`
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	User         *User     `json:"user,omitempty"`
	Users        []User    `json:"users,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	MessageData  *Message  `json:"messageData,omitempty"`
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
