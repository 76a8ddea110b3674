// Package oauthlinktest provides an in-memory UserStore and a scriptable
// Strategy for tests of code built on oauthlink.
package oauthlinktest

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	oa "github.com/panyam/oauthlink"
)

// MemoryStore is a UserStore kept in a map. It hands out copies so callers
// never alias stored users, and counts successful writes.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*oa.User
	saves atomic.Int32

	// SaveErr, when set, is returned by every SaveUser call
	SaveErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*oa.User)}
}

// Saves reports how many SaveUser calls succeeded
func (s *MemoryStore) Saves() int { return int(s.saves.Load()) }

// Put stores u as is, bypassing version checks. Version 0 is bumped to 1.
func (s *MemoryStore) Put(u *oa.User) *oa.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		id, err := oa.NewUserID()
		if err != nil {
			panic(err)
		}
		u.ID = id
	}
	if u.Version == 0 {
		u.Version = 1
	}
	s.users[u.ID] = u.Clone()
	return u
}

func (s *MemoryStore) FindUserById(ctx context.Context, id string) (*oa.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, oa.ErrUserNotFound
}

func (s *MemoryStore) FindUserByProviderId(ctx context.Context, provider oa.Provider, providerId string) (*oa.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if providerId != "" && u.ProviderID(provider) == providerId {
			return u.Clone(), nil
		}
	}
	return nil, oa.ErrUserNotFound
}

func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*oa.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if email != "" && strings.EqualFold(u.Email, email) {
			return u.Clone(), nil
		}
	}
	return nil, oa.ErrUserNotFound
}

func (s *MemoryStore) SaveUser(ctx context.Context, u *oa.User) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Version == 0 && u.ID == "" {
		id, err := oa.NewUserID()
		if err != nil {
			return err
		}
		u.ID = id
	}
	existing, ok := s.users[u.ID]
	if ok && existing.Version != u.Version || !ok && u.Version != 0 {
		return oa.ErrVersionConflict
	}
	for p, pid := range u.ProviderIDs {
		for _, other := range s.users {
			if other.ID != u.ID && other.ProviderID(p) == pid {
				return oa.ErrProviderIdCollision
			}
		}
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Version++
	s.users[u.ID] = u.Clone()
	s.saves.Add(1)
	return nil
}

// Strategy is a Strategy whose handshake and refresh results are scripted
type Strategy struct {
	P    oa.Provider
	Link bool

	// AuthorizeURL is where BeginAuth redirects
	AuthorizeURL string

	// Handshake and Err are returned by CompleteAuth
	Handshake *oa.Handshake
	Err       error

	// Refresh backs RefreshToken. Nil means the provider cannot refresh.
	Refresh func(ctx context.Context, refreshToken string) (*oa.TokenSet, error)

	refreshCalls atomic.Int32
}

func (s *Strategy) Provider() oa.Provider { return s.P }
func (s *Strategy) LinkOnly() bool        { return s.Link }

func (s *Strategy) BeginAuth(w http.ResponseWriter, r *http.Request) {
	target := s.AuthorizeURL
	if target == "" {
		target = "https://" + string(s.P) + ".test/authorize"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Strategy) CompleteAuth(w http.ResponseWriter, r *http.Request) (*oa.Handshake, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	hs := *s.Handshake
	hs.Profile.Provider = s.P
	return &hs, nil
}

func (s *Strategy) RefreshToken(ctx context.Context, refreshToken string) (*oa.TokenSet, error) {
	s.refreshCalls.Add(1)
	if s.Refresh == nil {
		return nil, oa.ErrRefreshUnsupported
	}
	return s.Refresh(ctx, refreshToken)
}

// RefreshCalls reports how many refresh exchanges reached the strategy
func (s *Strategy) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// At returns a pointer to now+d, for credential deadlines
func At(now time.Time, d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}
