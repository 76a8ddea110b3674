//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"strings"
	"time"

	"cloud.google.com/go/datastore"

	oa "github.com/panyam/oauthlink"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key         *datastore.Key `datastore:"__key__"`
	Email       string         `datastore:"email"`
	DisplayName string         `datastore:"display_name,noindex"`
	Picture     string         `datastore:"picture,noindex"`
	ProviderIDs []string       `datastore:"provider_ids,noindex"` // "provider:id"
	Credentials []byte         `datastore:"credentials,noindex"`  // JSON encoded
	CreatedAt   time.Time      `datastore:"created_at"`
	UpdatedAt   time.Time      `datastore:"updated_at"`
	Version     int            `datastore:"version"`
}

// ProviderIDEntity maps a provider account onto its user.
// Key format: Provider + ":" + ProviderID
type ProviderIDEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	Provider   string         `datastore:"provider"`
	ProviderID string         `datastore:"provider_id"`
	UserID     string         `datastore:"user_id"`
}

func providerKeyName(p oa.Provider, providerId string) string {
	return string(p) + ":" + providerId
}

// ToUser decodes the entity. Credentials are returned as stored, still sealed.
func (e *UserEntity) ToUser() (*oa.User, error) {
	u := &oa.User{
		ID:          e.Key.Name,
		Email:       e.Email,
		DisplayName: e.DisplayName,
		Picture:     e.Picture,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		Version:     e.Version,
	}
	for _, kv := range e.ProviderIDs {
		p, id, ok := strings.Cut(kv, ":")
		if ok {
			u.SetProviderID(oa.Provider(p), id)
		}
	}
	if len(e.Credentials) > 0 {
		if err := json.Unmarshal(e.Credentials, &u.Credentials); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// UserToEntity encodes u with the given (possibly sealed) credentials
func UserToEntity(u *oa.User, creds []oa.Credential, key *datastore.Key) (*UserEntity, error) {
	e := &UserEntity{
		Key:         key,
		Email:       strings.ToLower(u.Email),
		DisplayName: u.DisplayName,
		Picture:     u.Picture,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		Version:     u.Version,
	}
	for p, id := range u.ProviderIDs {
		e.ProviderIDs = append(e.ProviderIDs, providerKeyName(p, id))
	}
	if len(creds) > 0 {
		data, err := json.Marshal(creds)
		if err != nil {
			return nil, err
		}
		e.Credentials = data
	}
	return e, nil
}
