package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessage_KeySurvivesJSON(t *testing.T) {
	msg := Message{
		Sender:    "a",
		Recipient: "b",
		Content:   "hello",
		CreatedAt: Stamp(time.Now()),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, msg.Key(), decoded.Key())
}

func TestMessage_Between(t *testing.T) {
	msg := Message{Sender: "a", Recipient: "b"}
	require.True(t, msg.Between("a", "b"))
	require.True(t, msg.Between("b", "a"))
	require.False(t, msg.Between("a", "c"))
}

func TestConversationID(t *testing.T) {
	require.Equal(t, ConversationID("b", "a"), ConversationID("a", "b"))

	u1, u2, ok := ConversationMembers(ConversationID("bob", "alice"))
	require.True(t, ok)
	require.Equal(t, "alice", u1)
	require.Equal(t, "bob", u2)

	_, _, ok = ConversationMembers("townhall")
	require.False(t, ok)
}

func TestAPIError(t *testing.T) {
	err := error(&APIError{Kind: ErrValidation, Status: 400, Message: "email taken"})
	require.True(t, errors.Is(err, ErrValidation))
	require.False(t, errors.Is(err, ErrAuthExpired))
	require.Equal(t, 400, StatusOf(err))
	require.Contains(t, err.Error(), "email taken")

	cause := errors.New("connection refused")
	err = &APIError{Kind: ErrNetwork, Err: cause}
	require.True(t, errors.Is(err, ErrNetwork))
	require.True(t, errors.Is(err, cause))
	require.Equal(t, 0, StatusOf(err))
}
