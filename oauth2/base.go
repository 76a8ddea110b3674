package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	ol "github.com/panyam/oauthlink"
)

// ProfileParser maps a provider's user info document onto a Profile
type ProfileParser func(userInfo map[string]any) (ol.Profile, error)

// BaseOAuth2 is an authorization code strategy for one provider. The
// provider specific constructors only differ in endpoint, scopes, user info
// URL and profile mapping.
type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string

	// UserInfoURL is fetched with the new access token after the exchange.
	// Can be overridden for testing.
	UserInfoURL  string
	ParseProfile ProfileParser

	// EmailsURL lists the account's addresses with their verification state.
	// When set, the primary verified address replaces the profile email.
	EmailsURL string

	// HTTPClient is used for token and user info calls when set
	HTTPClient *http.Client

	// AuthCodeOptions are added to the consent redirect, eg offline access
	AuthCodeOptions []oauth2.AuthCodeOption

	provider    ol.Provider
	oauthConfig oauth2.Config
}

// NewBaseOAuth2 creates a strategy. Empty credentials fall back to
// OAUTH2_<PROVIDER>_CLIENT_ID, _CLIENT_SECRET and _CALLBACK_URL.
func NewBaseOAuth2(provider ol.Provider, clientId, clientSecret, callbackUrl string, endpoint oauth2.Endpoint, scopes ...string) *BaseOAuth2 {
	prefix := "OAUTH2_" + strings.ToUpper(string(provider))
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv(prefix + "_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv(prefix + "_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv(prefix + "_CALLBACK_URL"))
	}
	return &BaseOAuth2{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		provider:     provider,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

func (b *BaseOAuth2) Provider() ol.Provider { return b.provider }

func (b *BaseOAuth2) LinkOnly() bool { return false }

// Config exposes the underlying oauth2 config, eg to override endpoints in tests
func (b *BaseOAuth2) Config() *oauth2.Config { return &b.oauthConfig }

func (b *BaseOAuth2) BeginAuth(w http.ResponseWriter, r *http.Request) {
	OauthRedirector(&b.oauthConfig, b.AuthCodeOptions...)(w, r)
}

// CompleteAuth validates state, exchanges the code and loads the profile
func (b *BaseOAuth2) CompleteAuth(w http.ResponseWriter, r *http.Request) (*ol.Handshake, error) {
	if err := verifyState(w, r); err != nil {
		return nil, err
	}
	if e := r.FormValue("error"); e != "" {
		return nil, fmt.Errorf("%s denied access: %s", b.provider, e)
	}
	code := r.FormValue("code")
	if code == "" {
		return nil, errors.New("authorization code missing")
	}

	ctx := b.exchangeContext(r.Context())
	token, err := b.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	userInfo, err := b.getUserData(ctx, token)
	if err != nil {
		return nil, err
	}
	profile, err := b.ParseProfile(userInfo)
	if err != nil {
		return nil, err
	}
	profile.Provider = b.provider
	profile.Raw = userInfo
	if b.EmailsURL != "" {
		b.loadVerifiedEmail(ctx, token, &profile)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("%s profile has no id", b.provider)
	}
	return &ol.Handshake{Tokens: tokenSet(token), Profile: profile}, nil
}

// RefreshToken exchanges refreshToken at the provider's token endpoint
func (b *BaseOAuth2) RefreshToken(ctx context.Context, refreshToken string) (*ol.TokenSet, error) {
	ctx = b.exchangeContext(ctx)
	// an empty access token is never valid, so the source always refreshes
	ts := b.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := ts.Token()
	if err != nil {
		return nil, err
	}
	out := tokenSet(token)
	if out.RefreshToken == refreshToken {
		// x/oauth2 copies the old refresh token forward when none is returned
		out.RefreshToken = ""
	}
	return &out, nil
}

func (b *BaseOAuth2) exchangeContext(ctx context.Context) context.Context {
	if b.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	return ctx
}

func (b *BaseOAuth2) getUserData(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	var userInfo map[string]any
	if err := b.getJSON(ctx, b.UserInfoURL, token, &userInfo); err != nil {
		return nil, err
	}
	slog.Debug("fetched user info", "provider", b.provider)
	return userInfo, nil
}

type providerEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// loadVerifiedEmail sets the primary verified address on p. Without one the
// profile email stays unverified.
func (b *BaseOAuth2) loadVerifiedEmail(ctx context.Context, token *oauth2.Token, p *ol.Profile) {
	var emails []providerEmail
	if err := b.getJSON(ctx, b.EmailsURL, token, &emails); err != nil {
		slog.Warn("could not load verified emails", "provider", b.provider, "err", err)
		return
	}
	for _, e := range emails {
		if e.Primary && e.Verified && e.Email != "" {
			p.Email = e.Email
			p.EmailVerified = true
			return
		}
	}
}

func (b *BaseOAuth2) getJSON(ctx context.Context, url string, token *oauth2.Token, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	client := b.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed getting user info from %s: %w", b.provider, err)
	}
	defer response.Body.Close()

	contents, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed read response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("user info request returned %d", response.StatusCode)
	}
	if err := json.Unmarshal(contents, out); err != nil {
		return fmt.Errorf("failed to parse user info: %w", err)
	}
	return nil
}

func tokenSet(token *oauth2.Token) ol.TokenSet {
	out := ol.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		out.ExpiresIn = time.Until(token.Expiry).Round(time.Second)
	}
	if v := token.Extra("refresh_token_expires_in"); v != nil {
		out.RefreshExpiresIn = secondsField(v)
	} else if v := token.Extra("x_refresh_token_expires_in"); v != nil {
		out.RefreshExpiresIn = secondsField(v)
	}
	return out
}
