package auth

import (
	"fmt"
	"sync"

	"razgovor/internal/models"
)

// Persister keeps the credential pair across process restarts.
type Persister interface {
	SaveCredentials(pair models.CredentialPair) error
	LoadCredentials() (models.CredentialPair, bool, error)
	ClearCredentials() error
}

// CredentialStore holds the current credential pair of the session.
// It is the single owner of the pair; everything else reads it through
// Get. In-memory state changes only after the persister accepted the
// change.
type CredentialStore struct {
	persister Persister

	mu   sync.RWMutex
	pair models.CredentialPair
	ok   bool
}

// NewCredentialStore creates a store and loads any previously persisted pair.
func NewCredentialStore(persister Persister) (*CredentialStore, error) {
	pair, ok, err := persister.LoadCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return &CredentialStore{
		persister: persister,
		pair:      pair,
		ok:        ok,
	}, nil
}

func (s *CredentialStore) Set(pair models.CredentialPair) error {
	if !pair.Valid() {
		return models.ErrPartialCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persister.SaveCredentials(pair); err != nil {
		return fmt.Errorf("failed to persist credentials: %w", err)
	}
	s.pair = pair
	s.ok = true
	return nil
}

func (s *CredentialStore) Get() (models.CredentialPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.ok
}

func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persister.ClearCredentials(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	s.pair = models.CredentialPair{}
	s.ok = false
	return nil
}
