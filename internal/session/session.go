// Package session holds the caller's credential pair and selected account
// for one client, with an explicit load/save/clear lifecycle against a
// Store.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"brokerlink/internal/domain"
)

// Snapshot is the persisted form of a Session.
type Snapshot struct {
	UserID     string
	UserSecret string
	AccountID  string
	UpdatedAt  time.Time
}

// Store persists one session snapshot.
type Store interface {
	// Load returns the stored snapshot, or nil when none exists.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
}

// Session is safe for concurrent use. Every change that replaces the
// credential pair bumps the generation; results of requests issued under an
// older generation cannot overwrite the stored secret.
type Session struct {
	mu         sync.RWMutex
	store      Store
	id         domain.Identity
	accountID  string
	generation uint64
	now        func() time.Time
}

// Open loads the session from store. An empty store yields an empty
// session.
func Open(ctx context.Context, store Store) (*Session, error) {
	s := &Session{store: store, now: time.Now}
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if snap != nil {
		s.id = domain.Identity{UserID: snap.UserID, UserSecret: snap.UserSecret}
		s.accountID = snap.AccountID
	}
	return s, nil
}

// Identity returns the current credential pair.
func (s *Session) Identity() domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// AccountID returns the selected account, or "".
func (s *Session) AccountID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountID
}

// Generation returns the credential generation. Callers capture it before
// issuing a request whose result may rotate the secret.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Begin returns the identity together with its generation.
func (s *Session) Begin() (domain.Identity, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.generation
}

// SetUser switches the session to userID. Switching to a different user
// drops the secret and the selected account.
func (s *Session) SetUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == s.id.UserID {
		return nil
	}
	s.id = domain.Identity{UserID: userID}
	s.accountID = ""
	s.generation++
	return s.saveLocked(ctx)
}

// Rotate adopts secret as returned by a request issued under generation
// issuedUnder. It reports whether the stored secret changed. A result from
// an older generation is ignored.
func (s *Session) Rotate(ctx context.Context, issuedUnder uint64, secret string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if issuedUnder != s.generation || secret == "" || secret == s.id.UserSecret {
		return false, nil
	}
	s.id.UserSecret = secret
	s.generation++
	if err := s.saveLocked(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// SelectAccount records the selected account.
func (s *Session) SelectAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accountID = strings.TrimSpace(accountID)
	return s.saveLocked(ctx)
}

// Clear forgets the credentials and the selected account, in memory and in
// the store.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = domain.Identity{}
	s.accountID = ""
	s.generation++
	return s.store.Clear(ctx)
}

func (s *Session) saveLocked(ctx context.Context) error {
	err := s.store.Save(ctx, Snapshot{
		UserID:     s.id.UserID,
		UserSecret: s.id.UserSecret,
		AccountID:  s.accountID,
		UpdatedAt:  s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// MemoryStore is a Store that keeps the snapshot in memory.
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

// Load implements Store.
func (m *MemoryStore) Load(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, nil
	}
	cp := *m.snap
	return &cp, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = &snap
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}
