package devserver

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"razgovor/internal/content"
	"razgovor/internal/models"
	"razgovor/internal/storage"

	"github.com/c-pro/geche"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultAccessTTL   = 15 * time.Minute
	DefaultRefreshTTL  = 7 * 24 * time.Hour
	loginFailedMessage = "invalid email or password"
	issuer             = "razgovor-devserver"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New(loginFailedMessage)
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
)

// UserStore persists registered users.
type UserStore interface {
	UpsertUser(user storage.UserRecord) error
	ListUsers() ([]storage.UserRecord, error)
}

type AuthConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now overrides the clock used for token expiry.
	Now func() time.Time
}

func (c *AuthConfig) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	if c.AccessTTL == 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

type userCredentials struct {
	storage.UserRecord
	// Counter for consecutive failed login attempts to throttle brute force attacks.
	FailedLoginAttempts int64
	LastAttemptTime     int64
}

func (uc *userCredentials) resetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *userCredentials) incrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

type accessClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type signupPayload struct {
	Username string `validate:"required,min=3,max=32"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6,max=72"`
}

// AuthService issues and verifies credentials for the reference backend.
// Access tokens are signed JWTs; refresh tokens are opaque and single use.
type AuthService struct {
	AuthConfig
	store UserStore
	// users keyed by lower-cased email
	users *geche.Locker[string, *userCredentials]
	// profiles keyed by user id
	profiles      geche.Geche[string, models.User]
	refreshTokens geche.Geche[string, string]
	// refreshMu makes the lookup and revocation of a refresh token atomic.
	refreshMu sync.Mutex
	validate  *validator.Validate
	now       func() time.Time
	log       *slog.Logger
}

func NewAuthService(ctx context.Context, config AuthConfig, store UserStore, log *slog.Logger) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	as := &AuthService{
		AuthConfig:    config,
		store:         store,
		users:         geche.NewLocker[string, *userCredentials](geche.NewMapCache[string, *userCredentials]()),
		profiles:      geche.NewMapCache[string, models.User](),
		refreshTokens: geche.NewMapTTLCache[string, string](ctx, config.RefreshTTL, time.Minute),
		validate:      validator.New(),
		now:           config.Now,
		log:           log,
	}

	records, err := store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	for _, rec := range records {
		tx.Set(strings.ToLower(rec.Email), &userCredentials{UserRecord: rec})
		as.profiles.Set(rec.ID, rec.User)
	}

	return as, nil
}

// Signup registers a new user.
func (as *AuthService) Signup(req models.SignupRequest) (models.User, error) {
	payload := signupPayload{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	}
	if err := as.validate.Struct(payload); err != nil {
		return models.User{}, validationError(err)
	}
	if err := content.ValidateUsername(payload.Username); err != nil {
		return models.User{}, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	email := strings.ToLower(payload.Email)
	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(email); err == nil {
		return models.User{}, ErrUserExists
	}

	rec := storage.UserRecord{
		User: models.User{
			ID:          uuid.NewString(),
			DisplayName: payload.Username,
			Email:       email,
		},
		PasswordHash: string(passwordHash),
	}
	if err := as.store.UpsertUser(rec); err != nil {
		return models.User{}, fmt.Errorf("failed to store user: %w", err)
	}
	tx.Set(email, &userCredentials{UserRecord: rec})
	as.profiles.Set(rec.ID, rec.User)

	as.log.Info("user registered", "user_id", rec.ID)
	return rec.User, nil
}

// Login checks the password and issues a fresh credential pair.
func (as *AuthService) Login(req models.LoginRequest) (models.CredentialPair, error) {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return models.CredentialPair{}, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 3 {
		failedAttempts := user.FailedLoginAttempts
		nextAttempt := user.LastAttemptTime + 30*(failedAttempts*failedAttempts)
		if now.Unix() < nextAttempt {
			return models.CredentialPair{}, fmt.Errorf("%w, next attempt in %d seconds", ErrTooManyAttempts, nextAttempt-now.Unix())
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		user.incrementFailedLoginAttempts(now)
		return models.CredentialPair{}, ErrInvalidCredentials
	}

	pair, err := as.issuePair(user.ID)
	if err != nil {
		as.log.Error("login failed", "user_id", user.ID, "error", err)
		return models.CredentialPair{}, err
	}
	user.resetFailedLoginAttempts(now)
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// stops working.
func (as *AuthService) Refresh(refreshToken string) (models.CredentialPair, error) {
	if refreshToken == "" {
		return models.CredentialPair{}, ErrInvalidToken
	}
	as.refreshMu.Lock()
	defer as.refreshMu.Unlock()
	userID, err := as.refreshTokens.Get(refreshToken)
	if err != nil {
		return models.CredentialPair{}, ErrInvalidToken
	}
	_ = as.refreshTokens.Del(refreshToken)
	return as.issuePair(userID)
}

// Logout revokes a refresh token.
func (as *AuthService) Logout(refreshToken string) error {
	as.refreshMu.Lock()
	defer as.refreshMu.Unlock()
	if _, err := as.refreshTokens.Get(refreshToken); err != nil {
		return ErrInvalidToken
	}
	return as.refreshTokens.Del(refreshToken)
}

// Verify returns the user id carried by a valid access token.
func (as *AuthService) Verify(accessToken string) (string, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (any, error) {
		return []byte(as.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(as.now),
	)
	if err != nil || !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

func (as *AuthService) User(id string) (models.User, bool) {
	u, err := as.profiles.Get(id)
	return u, err == nil
}

// Users returns every registered user ordered by display name.
func (as *AuthService) Users() ([]models.User, error) {
	records, err := as.store.ListUsers()
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(records))
	for _, rec := range records {
		users = append(users, rec.User)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].DisplayName < users[j].DisplayName
	})
	return users, nil
}

func (as *AuthService) issuePair(userID string) (models.CredentialPair, error) {
	now := as.now()
	claims := &accessClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.AccessTTL)),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.Secret))
	if err != nil {
		return models.CredentialPair{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh, err := generateToken()
	if err != nil {
		return models.CredentialPair{}, err
	}
	as.refreshTokens.Set(refresh, userID)

	return models.CredentialPair{AccessToken: access, RefreshToken: refresh}, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "email":
		return errors.New("email is invalid")
	case "min":
		return fmt.Errorf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return fmt.Errorf("%s is invalid", fe.Field())
}
