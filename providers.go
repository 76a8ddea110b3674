package oauthlink

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Provider identifies the external service that issued a credential
type Provider string

const (
	Spotify  Provider = "spotify"
	Google   Provider = "google"
	GitHub   Provider = "github"
	LinkedIn Provider = "linkedin"
	Tumblr   Provider = "tumblr"
)

// KnownProviders is the closed set of providers this package can dispatch to
var KnownProviders = []Provider{Spotify, Google, GitHub, LinkedIn, Tumblr}

// ParseProvider validates s against KnownProviders
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(KnownProviders, p) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return p, nil
}

// TokenSet is what a provider hands back from a code exchange or a refresh.
// Zero durations mean the provider did not say.
type TokenSet struct {
	AccessToken      string
	RefreshToken     string
	TokenSecret      string
	ExpiresIn        time.Duration
	RefreshExpiresIn time.Duration
}

// Credential builds a fresh record for the provider from this token set
func (t *TokenSet) Credential(p Provider, now time.Time) Credential {
	c := Credential{Provider: p}
	t.Apply(&c, now)
	return c
}

// Apply overwrites c's token fields in place. A missing refresh token keeps
// the previous one, since not every provider rotates it. A missing lifetime
// clears the access deadline.
func (t *TokenSet) Apply(c *Credential, now time.Time) {
	c.AccessToken = t.AccessToken
	if t.TokenSecret != "" {
		c.TokenSecret = t.TokenSecret
	}
	if t.RefreshToken != "" {
		c.RefreshToken = t.RefreshToken
		c.RefreshTokenExpiresAt = nil
	}
	c.AccessTokenExpiresAt = nil
	if t.ExpiresIn > 0 {
		at := now.Add(t.ExpiresIn)
		c.AccessTokenExpiresAt = &at
	}
	if t.RefreshExpiresIn > 0 {
		rt := now.Add(t.RefreshExpiresIn)
		c.RefreshTokenExpiresAt = &rt
	}
}

// Profile is the provider's view of the authenticated account
type Profile struct {
	Provider      Provider
	ID            string
	Email         string
	EmailVerified bool
	DisplayName   string
	Picture       string
	Raw           map[string]any
}

// Handshake is the result of a completed provider callback
type Handshake struct {
	Tokens  TokenSet
	Profile Profile
}

// Strategy drives the interactive handshake for one provider
type Strategy interface {
	Provider() Provider

	// BeginAuth redirects the browser to the provider
	BeginAuth(w http.ResponseWriter, r *http.Request)

	// CompleteAuth handles the provider's redirect back and returns the
	// exchanged tokens and profile
	CompleteAuth(w http.ResponseWriter, r *http.Request) (*Handshake, error)

	// LinkOnly strategies can attach to a signed-in user but never sign in
	LinkOnly() bool
}

// TokenRefreshingStrategy is implemented by strategies whose provider
// supports exchanging a refresh token for a new access token
type TokenRefreshingStrategy interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// TokenRefresher is the provider token-refresh collaborator
type TokenRefresher interface {
	RequestNewAccessToken(ctx context.Context, provider Provider, refreshToken string) (*TokenSet, error)
}

// Registry is the immutable provider -> strategy table. Build it once at
// startup and hand the same pointer to the router and the guard.
type Registry struct {
	strategies map[Provider]Strategy
	order      []Provider
}

func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{strategies: make(map[Provider]Strategy, len(strategies))}
	for _, s := range strategies {
		p := s.Provider()
		if _, err := ParseProvider(string(p)); err != nil {
			return nil, err
		}
		if _, exists := r.strategies[p]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, p)
		}
		r.strategies[p] = s
		r.order = append(r.order, p)
	}
	return r, nil
}

// Lookup returns the strategy registered for p
func (r *Registry) Lookup(p Provider) (Strategy, error) {
	s, ok := r.strategies[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	return s, nil
}

// Parse validates a raw route value and confirms the provider is enabled
func (r *Registry) Parse(raw string) (Provider, error) {
	p, err := ParseProvider(raw)
	if err != nil {
		return "", err
	}
	if _, err := r.Lookup(p); err != nil {
		return "", err
	}
	return p, nil
}

// Providers lists the enabled providers in registration order
func (r *Registry) Providers() []Provider {
	return slices.Clone(r.order)
}

// RoutePattern is a gorilla/mux variable regexp matching only enabled providers
func (r *Registry) RoutePattern() string {
	names := make([]string, len(r.order))
	for i, p := range r.order {
		names[i] = regexp.QuoteMeta(string(p))
	}
	return strings.Join(names, "|")
}

// RequestNewAccessToken dispatches a refresh to the provider's strategy
func (r *Registry) RequestNewAccessToken(ctx context.Context, p Provider, refreshToken string) (*TokenSet, error) {
	s, err := r.Lookup(p)
	if err != nil {
		return nil, err
	}
	rs, ok := s.(TokenRefreshingStrategy)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRefreshUnsupported, p)
	}
	return rs.RefreshToken(ctx, refreshToken)
}
