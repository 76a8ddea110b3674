package oauthlink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ExpiryMargin is subtracted from "now" before comparing against any token
// deadline so a token cannot lapse between the check and the call it guards.
const ExpiryMargin = time.Minute

// Credential is one provider's stored tokens for a user
type Credential struct {
	Provider              Provider   `json:"provider"`
	AccessToken           string     `json:"access_token"`
	RefreshToken          string     `json:"refresh_token,omitempty"`
	TokenSecret           string     `json:"token_secret,omitempty"` // OAuth1 only
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
}

// AccessExpired reports whether the access token deadline is strictly before
// now minus ExpiryMargin. A credential without a deadline never expires.
func (c *Credential) AccessExpired(now time.Time) bool {
	return expiredAt(c.AccessTokenExpiresAt, now)
}

// RefreshExpired applies the same rule to the refresh token deadline.
func (c *Credential) RefreshExpired(now time.Time) bool {
	return expiredAt(c.RefreshTokenExpiresAt, now)
}

func expiredAt(deadline *time.Time, now time.Time) bool {
	if deadline == nil {
		return false
	}
	return deadline.Before(now.Add(-ExpiryMargin))
}

// User is a local account with zero or more linked provider credentials
type User struct {
	ID          string              `json:"id"`
	Email       string              `json:"email,omitempty"`
	DisplayName string              `json:"display_name,omitempty"`
	Picture     string              `json:"picture,omitempty"`
	ProviderIDs map[Provider]string `json:"provider_ids,omitempty"`
	Credentials []Credential        `json:"credentials,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Version     int                 `json:"version"` // optimistic locking version
}

// Credential returns the record for the provider, or nil if none is linked.
// The returned pointer aliases the user's slice so edits happen in place.
func (u *User) Credential(p Provider) *Credential {
	for i := range u.Credentials {
		if u.Credentials[i].Provider == p {
			return &u.Credentials[i]
		}
	}
	return nil
}

// SetCredential replaces the record for c.Provider in place, appending only
// when the provider has no record yet.
func (u *User) SetCredential(c Credential) {
	if existing := u.Credential(c.Provider); existing != nil {
		*existing = c
		return
	}
	u.Credentials = append(u.Credentials, c)
}

// ProviderID returns the external id the provider knows this user by
func (u *User) ProviderID(p Provider) string {
	return u.ProviderIDs[p]
}

func (u *User) SetProviderID(p Provider, id string) {
	if u.ProviderIDs == nil {
		u.ProviderIDs = make(map[Provider]string)
	}
	u.ProviderIDs[p] = id
}

// Clone returns a deep copy so callers can mutate without aliasing a cached user
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.ProviderIDs != nil {
		out.ProviderIDs = make(map[Provider]string, len(u.ProviderIDs))
		for k, v := range u.ProviderIDs {
			out.ProviderIDs[k] = v
		}
	}
	if u.Credentials != nil {
		out.Credentials = make([]Credential, len(u.Credentials))
		copy(out.Credentials, u.Credentials)
	}
	return &out
}

// UserStore persists users and their credentials.
//
// Lookups that find nothing return an error matching ErrUserNotFound.
// SaveUser creates the user when Version is 0 (assigning an ID if empty) and
// otherwise updates it only if the stored version still equals u.Version,
// returning ErrVersionConflict when it does not. On success Version is
// incremented on u.
type UserStore interface {
	FindUserById(ctx context.Context, id string) (*User, error)
	FindUserByProviderId(ctx context.Context, provider Provider, providerId string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	SaveUser(ctx context.Context, u *User) error
}

// NewUserID generates a random hex user id
func NewUserID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate user id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
