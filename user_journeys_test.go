package oauthlink_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oa "github.com/panyam/oauthlink"
	"github.com/panyam/oauthlink/oauthlinktest"
	"github.com/panyam/oauthlink/stores/fs"
)

// =============================================================================
// User Journey Tests
// These drive the full HTTP surface: begin auth, provider callback, session
// cookies, guarded actions and the JSON endpoints.
// =============================================================================

// TestJourney is a running app backed by the filesystem store and scripted
// provider strategies
type TestJourney struct {
	Store  *fs.FSUserStore
	App    *oa.App
	Server *httptest.Server

	Spotify *oauthlinktest.Strategy
	Google  *oauthlinktest.Strategy
	GitHub  *oauthlinktest.Strategy
	Tumblr  *oauthlinktest.Strategy
}

func setupJourney(t *testing.T) *TestJourney {
	t.Helper()
	j := &TestJourney{
		Store:   fs.NewFSUserStore(t.TempDir()),
		Spotify: &oauthlinktest.Strategy{P: oa.Spotify},
		Google:  &oauthlinktest.Strategy{P: oa.Google},
		GitHub:  &oauthlinktest.Strategy{P: oa.GitHub},
		Tumblr:  &oauthlinktest.Strategy{P: oa.Tumblr, Link: true},
	}
	registry, err := oa.NewRegistry(j.Spotify, j.Google, j.GitHub, j.Tumblr)
	require.NoError(t, err)
	j.App = oa.New("Journey", j.Store, registry)

	// login and account pages just echo the pending flash
	flash := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, j.App.PopFlash(r))
	}
	router := j.App.Router()
	router.HandleFunc("/login", flash)
	router.Handle("/account", j.App.Middleware.EnsureUser(http.HandlerFunc(flash)))

	j.App.HandleAction("/api/me", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := oa.UserFromContext(r.Context())
		fmt.Fprint(w, user.Credential(oa.Provider(mux.Vars(r)["provider"])).AccessToken)
	}))

	j.Server = httptest.NewServer(j.App.Handler())
	t.Cleanup(j.Server.Close)
	return j
}

// browser is an http client with its own cookie jar that does not follow
// redirects
type browser struct {
	t      *testing.T
	j      *TestJourney
	client *http.Client
}

func (j *TestJourney) newBrowser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, j: j, client: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) do(method, path string, header http.Header) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(method, b.j.Server.URL+path, nil)
	require.NoError(b.t, err)
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	return b.do(http.MethodGet, path, nil)
}

// signIn walks the begin/callback round trip with s scripted to return hs
// and returns the callback's response
func (b *browser) signIn(s *oauthlinktest.Strategy, hs *oa.Handshake, callbackURL string) *http.Response {
	b.t.Helper()
	s.Handshake = hs
	path := "/auth/" + string(s.P)
	if callbackURL != "" {
		path += "?callbackURL=" + url.QueryEscape(callbackURL)
	}
	resp, _ := b.get(path)
	require.Equal(b.t, http.StatusFound, resp.StatusCode)
	assert.Equal(b.t, "https://"+string(s.P)+".test/authorize", resp.Header.Get("Location"))

	resp, _ = b.get("/auth/" + string(s.P) + "/callback?code=c")
	require.Equal(b.t, http.StatusFound, resp.StatusCode)
	return resp
}

func (b *browser) account() (int, *oa.AccountResponse) {
	b.t.Helper()
	resp, body := b.get("/api/account")
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	var out oa.AccountResponse
	require.NoError(b.t, json.Unmarshal([]byte(body), &out))
	return resp.StatusCode, &out
}

func providerStatus(acc *oa.AccountResponse, p oa.Provider) oa.ProviderStatus {
	for _, s := range acc.Providers {
		if s.Provider == p {
			return s
		}
	}
	return oa.ProviderStatus{}
}

// =============================================================================
// Journey 1: First sign in creates an account and starts a session
// =============================================================================

func TestJourney1_SignInCreatesAccount(t *testing.T) {
	j := setupJourney(t)
	b := j.newBrowser(t)

	status, _ := b.account()
	assert.Equal(t, http.StatusUnauthorized, status)

	resp := b.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "Ada@Example.com", "secret-access"), "/account")
	assert.Equal(t, "/account", resp.Header.Get("Location"))

	status, acc := b.account()
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ada@example.com", acc.Email)
	assert.Equal(t, "Ada", acc.DisplayName)
	require.Len(t, acc.Providers, 4)

	sp := providerStatus(acc, oa.Spotify)
	assert.True(t, sp.Linked)
	assert.Equal(t, "valid", sp.State)
	assert.Equal(t, "sp-ada", sp.ProviderID)
	assert.Empty(t, sp.ReauthURL)

	gh := providerStatus(acc, oa.GitHub)
	assert.False(t, gh.Linked)
	assert.Equal(t, "no_credential", gh.State)
	assert.Equal(t, "/auth/github", gh.ReauthURL)
	assert.True(t, providerStatus(acc, oa.Tumblr).LinkOnly)

	// the account endpoint never leaks tokens
	_, body := b.get("/api/account")
	assert.NotContains(t, body, "secret-access")

	stored, err := j.Store.FindUserByProviderId(context.Background(), oa.Spotify, "sp-ada")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, stored.ID)
	assert.Equal(t, 1, stored.Version)

	// an off-site callbackURL is ignored
	b2 := j.newBrowser(t)
	resp = b2.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "ada@example.com", "a2"), "https://evil.example/steal")
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

// =============================================================================
// Journey 2: Link a second provider, sign out, sign back in with it
// =============================================================================

func TestJourney2_LinkThenSignInWithLinkedProvider(t *testing.T) {
	j := setupJourney(t)
	b := j.newBrowser(t)

	b.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "ada@example.com", "a1"), "")
	_, acc := b.account()
	adaID := acc.ID

	// GitHub reports a different email; linking keeps the account's email
	resp := b.signIn(j.GitHub, handshake(oa.GitHub, "gh-ada", "ada@work.example", "g1"), "/account")
	assert.Equal(t, "/account", resp.Header.Get("Location"))
	_, acc = b.account()
	assert.Equal(t, adaID, acc.ID)
	assert.Equal(t, "ada@example.com", acc.Email)
	assert.True(t, providerStatus(acc, oa.GitHub).Linked)
	assert.True(t, providerStatus(acc, oa.Spotify).Linked)

	resp, _ = b.get("/logout")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	status, _ := b.account()
	assert.Equal(t, http.StatusUnauthorized, status)

	b.signIn(j.GitHub, handshake(oa.GitHub, "gh-ada", "ada@work.example", "g2"), "")
	_, acc = b.account()
	assert.Equal(t, adaID, acc.ID)

	stored, err := j.Store.FindUserById(context.Background(), adaID)
	require.NoError(t, err)
	assert.Len(t, stored.Credentials, 2)
	assert.Equal(t, "g2", stored.Credential(oa.GitHub).AccessToken)
}

func TestJourney2_LogoutOnlyRedirectsOnSite(t *testing.T) {
	j := setupJourney(t)
	b := j.newBrowser(t)

	tests := []struct {
		to   string
		want string
	}{
		{"", "/"},
		{"/bye?x=1", "/bye?x=1"},
		{"//evil.example/steal", "/"},
		{"/\\evil.example", "/"},
		{"https://evil.example/", "/"},
		{"evil", "/"},
	}
	for _, tt := range tests {
		resp, _ := b.get("/logout?to=" + url.QueryEscape(tt.to))
		assert.Equal(t, http.StatusFound, resp.StatusCode, tt.to)
		assert.Equal(t, tt.want, resp.Header.Get("Location"), tt.to)
	}
}

// =============================================================================
// Journey 3: Collisions are rejected, never merged
// =============================================================================

func TestJourney3_EmailCollisionIsRejected(t *testing.T) {
	j := setupJourney(t)
	ada := j.newBrowser(t)
	ada.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "ada@example.com", "a1"), "")

	stranger := j.newBrowser(t)
	resp := stranger.signIn(j.Google, handshake(oa.Google, "g-ada", "ADA@example.com", "g1"), "/account")
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	_, body := stranger.get("/login")
	assert.Equal(t, oa.ErrEmailCollision.Error(), body)

	status, _ := stranger.account()
	assert.Equal(t, http.StatusUnauthorized, status)
	_, err := j.Store.FindUserByProviderId(context.Background(), oa.Google, "g-ada")
	assert.ErrorIs(t, err, oa.ErrUserNotFound)

	// flash is one-shot
	_, body = stranger.get("/login")
	assert.Empty(t, body)
}

func TestJourney3_ProviderIdCollisionIsRejected(t *testing.T) {
	j := setupJourney(t)
	ada := j.newBrowser(t)
	ada.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "ada@example.com", "a1"), "")

	bob := j.newBrowser(t)
	bob.signIn(j.GitHub, handshake(oa.GitHub, "gh-bob", "bob@example.com", "b1"), "")

	resp := bob.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "", "stolen"), "")
	assert.Equal(t, "/account", resp.Header.Get("Location"))
	_, body := bob.get("/account")
	assert.Equal(t, oa.ErrProviderIdCollision.Error(), body)

	_, acc := bob.account()
	assert.False(t, providerStatus(acc, oa.Spotify).Linked)
	owner, err := j.Store.FindUserByProviderId(context.Background(), oa.Spotify, "sp-ada")
	require.NoError(t, err)
	assert.Equal(t, "a1", owner.Credential(oa.Spotify).AccessToken)
}

func TestJourney3_LinkOnlyProviderNeedsSession(t *testing.T) {
	j := setupJourney(t)
	b := j.newBrowser(t)

	resp := b.signIn(j.Tumblr, handshake(oa.Tumblr, "tb-ada", "", "t1"), "")
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	_, body := b.get("/login")
	assert.Equal(t, oa.ErrLinkRequiresLogin.Error(), body)

	b.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "ada@example.com", "a1"), "")
	b.signIn(j.Tumblr, handshake(oa.Tumblr, "tb-ada", "", "t1"), "")
	_, acc := b.account()
	assert.True(t, providerStatus(acc, oa.Tumblr).Linked)
}

func TestJourney3_HandshakeFailure(t *testing.T) {
	j := setupJourney(t)
	b := j.newBrowser(t)
	j.GitHub.Err = errors.New("access_denied")
	resp := b.signIn(j.GitHub, nil, "")
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	_, body := b.get("/login")
	assert.Contains(t, body, "github")
}

// =============================================================================
// Journey 4: Guarded actions refresh or send the user back to the provider
// =============================================================================

func (j *TestJourney) expire(t *testing.T, userID string, p oa.Provider, keepRefresh bool) {
	t.Helper()
	ctx := context.Background()
	u, err := j.Store.FindUserById(ctx, userID)
	require.NoError(t, err)
	c := u.Credential(p)
	c.AccessTokenExpiresAt = oauthlinktest.At(time.Now(), -time.Hour)
	if !keepRefresh {
		c.RefreshToken = ""
	}
	require.NoError(t, j.Store.SaveUser(ctx, u))
}

func TestJourney4_GuardedActionRefreshes(t *testing.T) {
	j := setupJourney(t)
	b := j.newBrowser(t)
	b.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "ada@example.com", "a1"), "")
	_, acc := b.account()

	resp, body := b.get("/auth/spotify/api/me")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a1", body)
	assert.Equal(t, 0, j.Spotify.RefreshCalls())

	j.expire(t, acc.ID, oa.Spotify, true)
	_, acc = b.account()
	sp := providerStatus(acc, oa.Spotify)
	assert.Equal(t, "expired_refreshable", sp.State)
	assert.Empty(t, sp.ReauthURL)

	j.Spotify.Refresh = func(ctx context.Context, rt string) (*oa.TokenSet, error) {
		assert.Equal(t, "r-a1", rt)
		return &oa.TokenSet{AccessToken: "a2", ExpiresIn: time.Hour}, nil
	}
	resp, body = b.get("/auth/spotify/api/me")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a2", body)

	// already fresh, no second exchange
	_, body = b.get("/auth/spotify/api/me")
	assert.Equal(t, "a2", body)
	assert.Equal(t, 1, j.Spotify.RefreshCalls())

	stored, err := j.Store.FindUserById(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "r-a1", stored.Credential(oa.Spotify).RefreshToken)
}

func TestJourney4_GuardedActionFailures(t *testing.T) {
	j := setupJourney(t)
	b := j.newBrowser(t)

	// not signed in
	resp, _ := b.get("/auth/spotify/api/me")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	b.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "ada@example.com", "a1"), "")
	_, acc := b.account()

	// no credential for this provider yet
	resp, _ = b.get("/auth/github/api/me")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/github", resp.Header.Get("Location"))

	// unknown providers never match the route
	resp, _ = b.get("/auth/myspace/api/me")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	j.expire(t, acc.ID, oa.Spotify, true)
	j.Spotify.Refresh = func(ctx context.Context, rt string) (*oa.TokenSet, error) {
		return nil, errors.New("invalid_grant")
	}
	resp, _ = b.get("/auth/spotify/api/me")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	j.expire(t, acc.ID, oa.Spotify, false)
	_, acc = b.account()
	assert.Equal(t, "/auth/spotify", providerStatus(acc, oa.Spotify).ReauthURL)
	resp, _ = b.get("/auth/spotify/api/me")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/spotify", resp.Header.Get("Location"))

	// logging in again repairs the credential
	b.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "ada@example.com", "a3"), "")
	_, body := b.get("/auth/spotify/api/me")
	assert.Equal(t, "a3", body)
}

// =============================================================================
// Journey 5: Bearer tokens for API callers
// =============================================================================

func TestJourney5_BearerToken(t *testing.T) {
	j := setupJourney(t)
	b := j.newBrowser(t)

	resp, body := b.do(http.MethodPost, "/api/token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var tokErr oa.TokenError
	require.NoError(t, json.Unmarshal([]byte(body), &tokErr))
	assert.Equal(t, "invalid_client", tokErr.Error)

	b.signIn(j.Spotify, handshake(oa.Spotify, "sp-ada", "ada@example.com", "a1"), "")
	_, acc := b.account()

	resp, body = b.do(http.MethodPost, "/api/token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	var tok oa.TokenResponse
	require.NoError(t, json.Unmarshal([]byte(body), &tok))
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, int64(3600), tok.ExpiresIn)

	// a client with no cookies at all
	api := j.newBrowser(t)
	header := http.Header{"Authorization": {"Bearer " + tok.AccessToken}}
	resp, body = api.do(http.MethodGet, "/api/account", header)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var viaToken oa.AccountResponse
	require.NoError(t, json.Unmarshal([]byte(body), &viaToken))
	assert.Equal(t, acc.ID, viaToken.ID)

	resp, body = api.do(http.MethodGet, "/auth/spotify/api/me", header)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a1", body)

	// tokens signed with another key or issuer are ignored
	other := oa.New("Other", j.Store, j.App.Registry)
	forged, err := other.IssueToken(acc.ID, time.Hour)
	require.NoError(t, err)
	resp, _ = api.do(http.MethodGet, "/api/account", http.Header{"Authorization": {"Bearer " + forged}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, err := j.App.IssueToken(acc.ID, -time.Minute)
	require.NoError(t, err)
	resp, _ = api.do(http.MethodGet, "/api/account", http.Header{"Authorization": {"Bearer " + expired}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
