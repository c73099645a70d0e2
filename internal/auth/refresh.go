package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"razgovor/internal/models"

	"golang.org/x/sync/singleflight"
)

var ErrNoRefreshToken = errors.New("no refresh token stored")

// RefreshFunc exchanges a refresh token for a new pair. It is the raw
// network call; it must not go through the refresh path itself.
type RefreshFunc func(ctx context.Context, refreshToken string) (models.CredentialPair, error)

// RefreshError is returned to every caller waiting on a failed refresh.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() []error {
	return []error{models.ErrAuthInvalid, e.Err}
}

// RefreshCoordinator collapses concurrent refresh demand into a single
// refresh operation and is the only writer of the pair after login.
type RefreshCoordinator struct {
	store   *CredentialStore
	refresh RefreshFunc
	log     *slog.Logger

	flights singleflight.Group
	// mu serializes the network refresh and the store write.
	mu sync.Mutex
}

func NewRefreshCoordinator(store *CredentialStore, refresh RefreshFunc, log *slog.Logger) *RefreshCoordinator {
	if log == nil {
		log = slog.Default()
	}
	return &RefreshCoordinator{
		store:   store,
		refresh: refresh,
		log:     log,
	}
}

// Refresh returns a pair newer than the one whose access token was
// staleAccess. Callers that arrive while a refresh for the same stale
// token is in flight wait for its result instead of starting another.
// If the stored pair has already moved past staleAccess, it is returned
// without a network call.
func (rc *RefreshCoordinator) Refresh(ctx context.Context, staleAccess string) (models.CredentialPair, error) {
	// The flight outlives any single caller: one caller giving up must
	// not fail the others.
	flightCtx := context.WithoutCancel(ctx)
	ch := rc.flights.DoChan(staleAccess, func() (any, error) {
		return rc.doRefresh(flightCtx, staleAccess)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.CredentialPair{}, res.Err
		}
		return res.Val.(models.CredentialPair), nil
	case <-ctx.Done():
		return models.CredentialPair{}, ctx.Err()
	}
}

func (rc *RefreshCoordinator) doRefresh(ctx context.Context, staleAccess string) (models.CredentialPair, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	current, ok := rc.store.Get()
	if !ok || current.RefreshToken == "" {
		return models.CredentialPair{}, &RefreshError{Err: ErrNoRefreshToken}
	}
	if current.AccessToken != staleAccess {
		rc.log.Debug("credentials already refreshed")
		return current, nil
	}

	pair, err := rc.refresh(ctx, current.RefreshToken)
	if err != nil {
		rc.log.Warn("credential refresh failed", "error", err)
		return models.CredentialPair{}, &RefreshError{Err: err}
	}
	if !pair.Valid() {
		return models.CredentialPair{}, &RefreshError{Err: models.ErrPartialCredentials}
	}
	if err := rc.store.Set(pair); err != nil {
		return models.CredentialPair{}, &RefreshError{Err: err}
	}

	rc.log.Info("credentials refreshed")
	return pair, nil
}
