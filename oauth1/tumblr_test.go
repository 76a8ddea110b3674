package oauth1_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dghubble/oauth1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ol "github.com/panyam/oauthlink"
	tumblr "github.com/panyam/oauthlink/oauth1"
)

func newMockTumblr(t *testing.T) (*httptest.Server, *tumblr.TumblrOAuth1) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/request_token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("oauth_token=req-token&oauth_token_secret=req-secret&oauth_callback_confirmed=true"))
	})
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Authorization"), `oauth_verifier="v1"`) {
			http.Error(w, "bad verifier", http.StatusUnauthorized)
			return
		}
		w.Write([]byte("oauth_token=acc-token&oauth_token_secret=acc-secret"))
	})
	mux.HandleFunc("/v2/user/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":{"user":{"name":"blogger"}}}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	s := tumblr.NewTumblrOAuth1("key", "secret", "http://localhost/auth/tumblr/callback")
	s.UserInfoURL = server.URL + "/v2/user/info"
	s.Config().Endpoint = oauth1.Endpoint{
		RequestTokenURL: server.URL + "/oauth/request_token",
		AuthorizeURL:    server.URL + "/oauth/authorize",
		AccessTokenURL:  server.URL + "/oauth/access_token",
	}
	return server, s
}

func TestTumblrIsLinkOnly(t *testing.T) {
	s := tumblr.NewTumblrOAuth1("key", "secret", "cb")
	assert.Equal(t, ol.Tumblr, s.Provider())
	assert.True(t, s.LinkOnly())
}

func TestTumblrBeginAuth(t *testing.T) {
	server, s := newMockTumblr(t)

	rr := httptest.NewRecorder()
	s.BeginAuth(rr, httptest.NewRequest(http.MethodGet, "/auth/tumblr", nil))

	require.Equal(t, http.StatusFound, rr.Code)
	location := rr.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, server.URL+"/oauth/authorize"), location)
	assert.Contains(t, location, "oauth_token=req-token")

	var secret string
	for _, c := range rr.Result().Cookies() {
		if c.Name == "oauth1secret" {
			secret = c.Value
		}
	}
	assert.Equal(t, "req-secret", secret)
}

func TestTumblrCompleteAuth(t *testing.T) {
	_, s := newMockTumblr(t)

	t.Run("requires the request secret cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/tumblr/callback?oauth_token=req-token&oauth_verifier=v1", nil)
		_, err := s.CompleteAuth(httptest.NewRecorder(), req)
		require.Error(t, err)
	})

	t.Run("exchanges verifier for access token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/tumblr/callback?oauth_token=req-token&oauth_verifier=v1", nil)
		req.AddCookie(&http.Cookie{Name: "oauth1secret", Value: "req-secret"})

		hs, err := s.CompleteAuth(httptest.NewRecorder(), req)
		require.NoError(t, err)
		assert.Equal(t, "acc-token", hs.Tokens.AccessToken)
		assert.Equal(t, "acc-secret", hs.Tokens.TokenSecret)
		assert.Empty(t, hs.Tokens.RefreshToken)
		assert.Equal(t, "blogger", hs.Profile.ID)
		assert.Equal(t, ol.Tumblr, hs.Profile.Provider)
	})
}
