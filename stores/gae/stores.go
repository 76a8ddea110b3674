//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	oa "github.com/panyam/oauthlink"
)

// Kind constants for Datastore entities
const (
	KindUser       = "User"
	KindProviderID = "ProviderID"
)

// UserStore implements oa.UserStore using Google Cloud Datastore
type UserStore struct {
	client    *datastore.Client
	namespace string

	// Sealer encrypts the credentials blob's token fields when set
	Sealer oa.TokenSealer
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *UserStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserStore) query(kind string) *datastore.Query {
	query := datastore.NewQuery(kind)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	return query
}

func (s *UserStore) FindUserById(ctx context.Context, id string) (*oa.User, error) {
	if id == "" {
		return nil, oa.ErrUserNotFound
	}
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oa.ErrUserNotFound
		}
		return nil, err
	}
	return s.decode(&entity)
}

func (s *UserStore) FindUserByProviderId(ctx context.Context, provider oa.Provider, providerId string) (*oa.User, error) {
	var link ProviderIDEntity
	err := s.client.Get(ctx, s.namespacedKey(KindProviderID, providerKeyName(provider, providerId)), &link)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, oa.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.FindUserById(ctx, link.UserID)
}

func (s *UserStore) FindUserByEmail(ctx context.Context, email string) (*oa.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, oa.ErrUserNotFound
	}
	query := s.query(KindUser).FilterField("email", "=", email).Limit(1)
	it := s.client.Run(ctx, query)
	var entity UserEntity
	_, err := it.Next(&entity)
	if err == iterator.Done {
		return nil, oa.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.decode(&entity)
}

func (s *UserStore) decode(entity *UserEntity) (*oa.User, error) {
	user, err := entity.ToUser()
	if err != nil {
		return nil, fmt.Errorf("corrupt user entity %s: %w", entity.Key.Name, err)
	}
	if user.Credentials, err = oa.OpenCredentials(s.Sealer, user.Credentials); err != nil {
		return nil, fmt.Errorf("failed to open credentials for user %s: %w", user.ID, err)
	}
	return user, nil
}

// SaveUser writes the user and its provider id links in one transaction,
// failing with ErrVersionConflict if the stored version moved on.
func (s *UserStore) SaveUser(ctx context.Context, u *oa.User) error {
	if u.Version == 0 && u.ID == "" {
		id, err := oa.NewUserID()
		if err != nil {
			return err
		}
		u.ID = id
	}
	sealed, err := oa.SealCredentials(s.Sealer, u.Credentials)
	if err != nil {
		return err
	}

	key := s.namespacedKey(KindUser, u.ID)
	now := time.Now().UTC()
	var saved *UserEntity

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		err := tx.Get(key, &existing)
		switch {
		case err != nil && !errors.Is(err, datastore.ErrNoSuchEntity):
			return err
		case err == nil && u.Version == 0:
			return fmt.Errorf("user %s already exists: %w", u.ID, oa.ErrVersionConflict)
		case err == nil && existing.Version != u.Version:
			return oa.ErrVersionConflict
		case err != nil && u.Version != 0:
			return oa.ErrVersionConflict
		}

		// claim provider ids, failing if another user owns one
		for p, pid := range u.ProviderIDs {
			linkKey := s.namespacedKey(KindProviderID, providerKeyName(p, pid))
			var link ProviderIDEntity
			err := tx.Get(linkKey, &link)
			if err == nil && link.UserID != u.ID {
				return oa.ErrProviderIdCollision
			}
			if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
				return err
			}
			if err != nil {
				if _, err := tx.Put(linkKey, &ProviderIDEntity{Provider: string(p), ProviderID: pid, UserID: u.ID}); err != nil {
					return err
				}
			}
		}

		// release links the user no longer has
		for _, kv := range existing.ProviderIDs {
			p, pid, _ := strings.Cut(kv, ":")
			if u.ProviderID(oa.Provider(p)) != pid {
				if err := tx.Delete(s.namespacedKey(KindProviderID, kv)); err != nil {
					return err
				}
			}
		}

		entity, err := UserToEntity(u, sealed, key)
		if err != nil {
			return err
		}
		if existing.CreatedAt.IsZero() {
			if entity.CreatedAt.IsZero() {
				entity.CreatedAt = now
			}
		} else {
			entity.CreatedAt = existing.CreatedAt
		}
		entity.UpdatedAt = now
		entity.Version = u.Version + 1
		if _, err := tx.Put(key, entity); err != nil {
			return err
		}
		saved = entity
		return nil
	})
	if err != nil {
		return err
	}

	u.Version = saved.Version
	u.CreatedAt = saved.CreatedAt
	u.UpdatedAt = saved.UpdatedAt
	return nil
}
