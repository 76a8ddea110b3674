// Package fs stores users as JSON files, one per user, under a storage dir.
// It is meant for development and single host deployments.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	oa "github.com/panyam/oauthlink"
)

// FSUserStore implements oauthlink.UserStore on the filesystem
type FSUserStore struct {
	StoragePath string

	// Sealer encrypts token fields before they hit disk when set
	Sealer oa.TokenSealer

	Now func() time.Time

	// serializes the read-compare-write in SaveUser within this process
	mu sync.Mutex
}

func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath, Now: time.Now}
}

func (s *FSUserStore) usersDir() string {
	return filepath.Join(s.StoragePath, "users")
}

func (s *FSUserStore) getUserPath(userId string) string {
	return filepath.Join(s.usersDir(), safeName(userId)+".json")
}

func (s *FSUserStore) FindUserById(ctx context.Context, id string) (*oa.User, error) {
	if id == "" {
		return nil, oa.ErrUserNotFound
	}
	return s.readUser(s.getUserPath(id))
}

func (s *FSUserStore) FindUserByProviderId(ctx context.Context, provider oa.Provider, providerId string) (*oa.User, error) {
	return s.scan(ctx, func(u *oa.User) bool {
		return providerId != "" && u.ProviderID(provider) == providerId
	})
}

func (s *FSUserStore) FindUserByEmail(ctx context.Context, email string) (*oa.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.scan(ctx, func(u *oa.User) bool {
		return email != "" && strings.EqualFold(u.Email, email)
	})
}

func (s *FSUserStore) SaveUser(ctx context.Context, u *oa.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Version == 0 && u.ID == "" {
		id, err := oa.NewUserID()
		if err != nil {
			return err
		}
		u.ID = id
	}
	path := s.getUserPath(u.ID)

	existing, err := s.readUser(path)
	switch {
	case err == nil && u.Version == 0:
		return fmt.Errorf("user %s already exists: %w", u.ID, oa.ErrVersionConflict)
	case err == nil && existing.Version != u.Version:
		return oa.ErrVersionConflict
	case err != nil && !isNotFound(err):
		return err
	case err != nil && u.Version != 0:
		// updating a user that was never created
		return oa.ErrVersionConflict
	}

	// a provider account belongs to at most one user
	for p, pid := range u.ProviderIDs {
		owner, err := s.FindUserByProviderId(ctx, p, pid)
		if err == nil && owner.ID != u.ID {
			return oa.ErrProviderIdCollision
		}
		if err != nil && !isNotFound(err) {
			return err
		}
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	record := u.Clone()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.Version = u.Version + 1
	if record.Credentials, err = oa.SealCredentials(s.Sealer, record.Credentials); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomicFile(path, data); err != nil {
		return err
	}

	u.CreatedAt = record.CreatedAt
	u.UpdatedAt = record.UpdatedAt
	u.Version = record.Version
	return nil
}

func (s *FSUserStore) readUser(path string) (*oa.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, oa.ErrUserNotFound
		}
		return nil, err
	}
	var user oa.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("corrupt user file %s: %w", filepath.Base(path), err)
	}
	if user.Credentials, err = oa.OpenCredentials(s.Sealer, user.Credentials); err != nil {
		return nil, fmt.Errorf("failed to open credentials for user %s: %w", user.ID, err)
	}
	return &user, nil
}

// scan walks every user file and returns the first match
func (s *FSUserStore) scan(ctx context.Context, match func(*oa.User) bool) (*oa.User, error) {
	entries, err := os.ReadDir(s.usersDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, oa.ErrUserNotFound
		}
		return nil, err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		user, err := s.readUser(filepath.Join(s.usersDir(), name))
		if err != nil {
			continue
		}
		if match(user) {
			return user, nil
		}
	}
	return nil, oa.ErrUserNotFound
}

func isNotFound(err error) bool {
	return errors.Is(err, oa.ErrUserNotFound)
}
