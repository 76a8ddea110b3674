// Package oauth1 provides OAuth 1.0a strategies. Tumblr is link-only: its
// tokens are attached to an already signed-in user so the app can call the
// Tumblr API on their behalf, but it never creates or signs in accounts.
package oauth1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/dghubble/oauth1"

	ol "github.com/panyam/oauthlink"
)

const requestSecretCookie = "oauth1secret"

var TumblrEndpoint = oauth1.Endpoint{
	RequestTokenURL: "https://www.tumblr.com/oauth/request_token",
	AuthorizeURL:    "https://www.tumblr.com/oauth/authorize",
	AccessTokenURL:  "https://www.tumblr.com/oauth/access_token",
}

type TumblrOAuth1 struct {
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string

	// UserInfoURL can be overridden for testing
	UserInfoURL string

	config *oauth1.Config
}

// NewTumblrOAuth1 creates the strategy. Empty values fall back to
// TUMBLR_KEY, TUMBLR_SECRET and TUMBLR_CALLBACK_URL.
func NewTumblrOAuth1(consumerKey, consumerSecret, callbackUrl string) *TumblrOAuth1 {
	if consumerKey == "" {
		consumerKey = strings.TrimSpace(os.Getenv("TUMBLR_KEY"))
	}
	if consumerSecret == "" {
		consumerSecret = strings.TrimSpace(os.Getenv("TUMBLR_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("TUMBLR_CALLBACK_URL"))
	}
	return &TumblrOAuth1{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		CallbackURL:    callbackUrl,
		UserInfoURL:    "https://api.tumblr.com/v2/user/info",
		config: &oauth1.Config{
			ConsumerKey:    consumerKey,
			ConsumerSecret: consumerSecret,
			CallbackURL:    callbackUrl,
			Endpoint:       TumblrEndpoint,
		},
	}
}

func (t *TumblrOAuth1) Provider() ol.Provider { return ol.Tumblr }

func (t *TumblrOAuth1) LinkOnly() bool { return true }

// Config exposes the oauth1 config, eg to point the endpoint at a test server
func (t *TumblrOAuth1) Config() *oauth1.Config { return t.config }

// BeginAuth obtains a request token and sends the browser to authorize it.
// The request secret is kept in a short lived cookie for the callback.
func (t *TumblrOAuth1) BeginAuth(w http.ResponseWriter, r *http.Request) {
	requestToken, requestSecret, err := t.config.RequestToken()
	if err != nil {
		slog.Warn("tumblr request token failed", "err", err)
		http.Error(w, "could not start Tumblr authorization", http.StatusBadGateway)
		return
	}
	authURL, err := t.config.AuthorizationURL(requestToken)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     requestSecretCookie,
		Value:    requestSecret,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
	})
	http.Redirect(w, r, authURL.String(), http.StatusFound)
}

func (t *TumblrOAuth1) CompleteAuth(w http.ResponseWriter, r *http.Request) (*ol.Handshake, error) {
	secretCookie, _ := r.Cookie(requestSecretCookie)
	http.SetCookie(w, &http.Cookie{Name: requestSecretCookie, Value: "", Path: "/", MaxAge: -1})
	if secretCookie == nil || secretCookie.Value == "" {
		return nil, errors.New("oauth1 request secret missing")
	}

	requestToken, verifier, err := oauth1.ParseAuthorizationCallback(r)
	if err != nil {
		return nil, err
	}
	accessToken, accessSecret, err := t.config.AccessToken(requestToken, secretCookie.Value, verifier)
	if err != nil {
		return nil, fmt.Errorf("tumblr access token exchange failed: %w", err)
	}

	profile, err := t.getProfile(r, accessToken, accessSecret)
	if err != nil {
		return nil, err
	}
	return &ol.Handshake{
		Tokens:  ol.TokenSet{AccessToken: accessToken, TokenSecret: accessSecret},
		Profile: *profile,
	}, nil
}

func (t *TumblrOAuth1) getProfile(r *http.Request, accessToken, accessSecret string) (*ol.Profile, error) {
	client := t.config.Client(r.Context(), oauth1.NewToken(accessToken, accessSecret))
	resp, err := client.Get(t.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info from tumblr: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tumblr user info returned %d", resp.StatusCode)
	}

	var info struct {
		Response struct {
			User struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse tumblr user info: %w", err)
	}
	name := info.Response.User.Name
	if name == "" {
		return nil, errors.New("tumblr profile has no name")
	}
	return &ol.Profile{Provider: ol.Tumblr, ID: name, DisplayName: name}, nil
}
