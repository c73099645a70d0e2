package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"razgovor/internal/devserver"
	apihttp "razgovor/internal/http"
	"razgovor/internal/models"
	"razgovor/internal/storage"

	"github.com/stretchr/testify/require"
)

func startBackend(t *testing.T) {
	t.Helper()

	db, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "devserver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dev, err := devserver.New(ctx, devserver.AuthConfig{Secret: "test-secret"}, db, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(apihttp.NewRouter(dev.API, dev.Sockets))
	t.Cleanup(srv.Close)

	t.Setenv("API_BASE_URL", srv.URL+"/api")
	t.Setenv("CHANNEL_URL", "ws"+strings.TrimPrefix(srv.URL, "http")+"/socket")
	t.Setenv("LOG_LEVEL", "error")
}

// execute runs the CLI with credentials in dbPath.
func execute(t *testing.T, dbPath, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CREDENTIALS_DB", dbPath)

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestCommands(t *testing.T) {
	startBackend(t)
	dir := t.TempDir()
	aliceDB := filepath.Join(dir, "alice.db")
	bobDB := filepath.Join(dir, "bob.db")

	register := func(dbPath, name string) {
		out, err := execute(t, dbPath, "", "signup", "--username", name, "--email", name+"@example.com", "--password", "secret1")
		require.NoError(t, err)
		require.Contains(t, out, "User registered successfully")

		out, err = execute(t, dbPath, "", "login", "--email", name+"@example.com", "--password", "secret1")
		require.NoError(t, err)
		require.Contains(t, out, "Logged in as "+name)
	}
	register(aliceDB, "alice")
	register(bobDB, "bob")

	t.Run("Whoami", func(t *testing.T) {
		out, err := execute(t, aliceDB, "", "whoami")
		require.NoError(t, err)
		require.Contains(t, out, "alice")
		require.Contains(t, out, "alice@example.com")
	})

	t.Run("Users", func(t *testing.T) {
		out, err := execute(t, aliceDB, "", "users")
		require.NoError(t, err)
		require.Contains(t, out, "2 users")
		require.Contains(t, out, "alice (you)")
		require.Contains(t, out, "bob")
	})

	t.Run("SendAndHistory", func(t *testing.T) {
		out, err := execute(t, aliceDB, "", "send", "bob", "hello", "there")
		require.NoError(t, err)
		require.Contains(t, out, "alice: hello there")

		out, err = execute(t, bobDB, "", "history", "alice")
		require.NoError(t, err)
		require.Contains(t, out, "alice: hello there")

		_, err = execute(t, bobDB, "", "history", "carol")
		require.ErrorIs(t, err, ErrUnknownUser)
	})

	t.Run("Chat", func(t *testing.T) {
		out, err := execute(t, bobDB, "\nfrom the chat\n/quit\n", "chat", "alice")
		require.NoError(t, err)
		require.Contains(t, out, "Chat with alice")

		out, err = execute(t, aliceDB, "", "history", "bob")
		require.NoError(t, err)
		require.Contains(t, out, "bob: from the chat")
	})

	t.Run("Logout", func(t *testing.T) {
		out, err := execute(t, aliceDB, "", "logout")
		require.NoError(t, err)
		require.Contains(t, out, "Logged out")

		db, err := storage.NewBboltStorage(aliceDB)
		require.NoError(t, err)
		_, ok, err := db.LoadCredentials()
		require.NoError(t, err)
		require.False(t, ok)
		require.NoError(t, db.Close())

		out, err = execute(t, aliceDB, "", "logout")
		require.NoError(t, err)
		require.Contains(t, out, "Not logged in")
	})
}

func TestTranscriptView(t *testing.T) {
	var out bytes.Buffer
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m1 := models.Message{Sender: "a", Recipient: "b", Content: "one", CreatedAt: at}
	m2 := models.Message{Sender: "b", Recipient: "a", Content: "two\x1b[2J", CreatedAt: at.Add(time.Second)}

	v := &transcriptView{out: &out, selfID: "a", names: map[string]string{"a": "alice", "b": "bob"}}
	v.render([]models.Message{m1}, models.TypingState{})
	v.render([]models.Message{m1, m2}, models.TypingState{PeerID: "b", IsTyping: true})
	v.render([]models.Message{m1, m2}, models.TypingState{PeerID: "b", IsTyping: true})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "alice: one")
	require.Contains(t, lines[1], "bob: two[2J")
	require.NotContains(t, lines[1], "\x1b")
	require.Contains(t, lines[2], "bob is typing...")

	// History replaced the transcript: everything is printed again.
	out.Reset()
	v.render([]models.Message{m2}, models.TypingState{})
	require.Equal(t, 1, strings.Count(out.String(), "\n"))
}

func TestFindUser(t *testing.T) {
	users := []models.User{{ID: "u1", DisplayName: "Alice"}, {ID: "u2", DisplayName: "bob"}}

	u, err := findUser(users, "alice")
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)

	u, err = findUser(users, "u2")
	require.NoError(t, err)
	require.Equal(t, "bob", u.DisplayName)

	_, err = findUser(users, "carol")
	require.ErrorIs(t, err, ErrUnknownUser)
}
