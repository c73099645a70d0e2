package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"razgovor/internal/content"
	"razgovor/internal/models"
)

type ctxKey struct{}

// MessageStore persists direct messages.
type MessageStore interface {
	AppendMessage(msg models.Message) error
	ListMessages(u1, u2 string) ([]models.Message, error)
}

type API struct {
	auth     *AuthService
	messages MessageStore
	now      func() time.Time
	log      *slog.Logger
}

func NewAPI(auth *AuthService, messages MessageStore, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{
		auth:     auth,
		messages: messages,
		now:      time.Now,
		log:      log,
	}
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if !a.decode(w, r, &req) {
		return
	}

	if _, err := a.auth.Signup(req); err != nil {
		if errors.Is(err, ErrUserExists) {
			a.writeError(w, http.StatusConflict, err.Error())
			return
		}
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.writeJSON(w, http.StatusCreated, models.Envelope{Message: "User registered successfully"})
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}

	pair, err := a.auth.Login(req)
	switch {
	case errors.Is(err, ErrTooManyAttempts):
		a.writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, ErrInvalidCredentials):
		a.writeError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		a.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.writeJSON(w, http.StatusOK, models.Envelope{
		Message:      "Login successful",
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (a *API) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if !a.decode(w, r, &req) {
		return
	}

	pair, err := a.auth.Refresh(req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			a.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		a.log.Error("refresh failed", "error", err)
		a.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.writeJSON(w, http.StatusOK, models.Envelope{
		Message:      "Token refreshed",
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		a.writeError(w, http.StatusBadRequest, "refresh token is required")
		return
	}

	if err := a.auth.Logout(req.RefreshToken); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.writeJSON(w, http.StatusOK, models.Envelope{Message: "Logged out successfully"})
}

func (a *API) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := a.auth.User(UserID(r.Context()))
	if !ok {
		a.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	a.writeJSON(w, http.StatusOK, models.Envelope{User: &user})
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.Users()
	if err != nil {
		a.log.Error("failed to list users", "error", err)
		a.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.writeJSON(w, http.StatusOK, models.Envelope{Users: users})
}

func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	user1, user2 := r.PathValue("user1"), r.PathValue("user2")
	self := UserID(r.Context())
	if self != user1 && self != user2 {
		a.writeError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	messages, err := a.messages.ListMessages(user1, user2)
	if err != nil {
		a.log.Error("failed to list messages", "user_id", self, "error", err)
		a.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.writeJSON(w, http.StatusOK, models.Envelope{Messages: messages})
}

func (a *API) SendHandler(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if !a.decode(w, r, &msg) {
		return
	}

	self := UserID(r.Context())
	if msg.Sender != "" && msg.Sender != self {
		a.writeError(w, http.StatusForbidden, "sender does not match the authenticated user")
		return
	}
	msg.Sender = self

	if _, ok := a.auth.User(msg.Recipient); !ok {
		a.writeError(w, http.StatusBadRequest, "recipient not found")
		return
	}

	text, err := content.NormalizeMessage(msg.Content)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg.Content = text

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = a.now()
	}
	msg.CreatedAt = models.Stamp(msg.CreatedAt)

	if err := a.messages.AppendMessage(msg); err != nil {
		a.log.Error("failed to store message", "user_id", self, "error", err)
		a.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.writeJSON(w, http.StatusOK, models.Envelope{Message: "Message sent", MessageData: &msg})
}

// RequireAuth rejects requests without a valid bearer access token and
// stores the user id in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.Verify(bearerToken(r))
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

// UserID returns the authenticated user id stored by RequireAuth.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func bearerToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		a.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (a *API) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, models.Envelope{Message: message})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, env models.Envelope) {
	env.Status = status
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		a.log.Error("failed to encode response", "error", err)
	}
}
