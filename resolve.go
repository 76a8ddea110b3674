package oauthlink

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Outcome says how a handshake was resolved to a local user
type Outcome int

const (
	LinkedToExistingUser Outcome = iota + 1
	SignedInExistingUser
	NewUserCreated
)

func (o Outcome) String() string {
	switch o {
	case LinkedToExistingUser:
		return "linked"
	case SignedInExistingUser:
		return "signed_in"
	case NewUserCreated:
		return "created"
	}
	return "unknown"
}

type Resolution struct {
	Outcome Outcome
	User    *User
}

// Resolver maps a provider handshake onto a local user.
//
// # Policy
//
//   - Signed in and linking: if another user already owns the provider id the
//     link is rejected with ErrProviderIdCollision. Otherwise the credential is
//     attached to the session user.
//   - Not signed in: a returning provider id signs that user in and replaces
//     its credential. An unknown provider id whose verified email belongs to
//     an existing account is rejected with ErrEmailCollision; the user has to
//     sign in and link manually. Otherwise a new user is created. Unverified
//     emails are neither stored nor matched.
//
// Every successful path performs exactly one SaveUser and error paths perform
// none. Store errors are returned as-is.
type Resolver struct {
	Store UserStore
	Now   func() time.Time
}

func NewResolver(store UserStore) *Resolver {
	return &Resolver{Store: store}
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Resolve runs identity resolution for a completed handshake. sessionUserID
// is empty when the caller is not signed in. linkOnly strategies refuse to
// sign in or create users.
func (r *Resolver) Resolve(ctx context.Context, sessionUserID string, hs *Handshake, linkOnly bool) (*Resolution, error) {
	profile := hs.Profile
	if sessionUserID != "" {
		return r.link(ctx, sessionUserID, hs)
	}
	if linkOnly {
		return nil, ErrLinkRequiresLogin
	}

	existing, err := r.findByProviderId(ctx, profile.Provider, profile.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		r.attach(existing, hs)
		if err := r.Store.SaveUser(ctx, existing); err != nil {
			return nil, err
		}
		slog.Info("signed in returning user", "user", existing.ID, "provider", profile.Provider)
		return &Resolution{Outcome: SignedInExistingUser, User: existing}, nil
	}

	email := verifiedEmail(profile)
	if email != "" {
		owner, err := r.Store.FindUserByEmail(ctx, email)
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		if owner != nil {
			slog.Info("rejected sign in: email belongs to another account", "provider", profile.Provider)
			return nil, ErrEmailCollision
		}
	}

	id, err := NewUserID()
	if err != nil {
		return nil, err
	}
	user := &User{ID: id, Email: email}
	r.attach(user, hs)
	if err := r.Store.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	slog.Info("created user", "user", user.ID, "provider", profile.Provider)
	return &Resolution{Outcome: NewUserCreated, User: user}, nil
}

func (r *Resolver) link(ctx context.Context, sessionUserID string, hs *Handshake) (*Resolution, error) {
	profile := hs.Profile
	owner, err := r.findByProviderId(ctx, profile.Provider, profile.ID)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.ID != sessionUserID {
		slog.Info("rejected link: provider id owned by another user",
			"user", sessionUserID, "provider", profile.Provider)
		return nil, ErrProviderIdCollision
	}

	user, err := r.Store.FindUserById(ctx, sessionUserID)
	if err != nil {
		return nil, err
	}
	r.attach(user, hs)
	if err := r.Store.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	slog.Info("linked provider", "user", user.ID, "provider", profile.Provider)
	return &Resolution{Outcome: LinkedToExistingUser, User: user}, nil
}

// attach records the provider id, replaces the credential and resyncs the
// denormalized profile fields
func (r *Resolver) attach(u *User, hs *Handshake) {
	p := hs.Profile
	u.SetProviderID(p.Provider, p.ID)
	u.SetCredential(hs.Tokens.Credential(p.Provider, r.now()))
	if p.DisplayName != "" {
		u.DisplayName = p.DisplayName
	}
	if p.Picture != "" && u.Picture == "" {
		u.Picture = p.Picture
	}
}

func (r *Resolver) findByProviderId(ctx context.Context, p Provider, id string) (*User, error) {
	u, err := r.Store.FindUserByProviderId(ctx, p, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	return u, err
}

// verifiedEmail is the normalized profile email, or empty when the provider
// did not verify it
func verifiedEmail(p Profile) string {
	if !p.EmailVerified {
		return ""
	}
	return normalizeEmail(p.Email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
