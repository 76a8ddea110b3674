package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dghubble/oauth1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oa "github.com/panyam/oauthlink"
)

func echoAuthServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("Authorization")))
	}))
	t.Cleanup(server.Close)
	return server
}

func get(t *testing.T, c *http.Client, url string) string {
	t.Helper()
	resp, err := c.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestAuthTransport(t *testing.T) {
	server := echoAuthServer(t)

	c := &http.Client{Transport: &AuthTransport{Token: "test-token"}}
	assert.Equal(t, "Bearer test-token", get(t, c, server.URL))

	// no token leaves the header alone
	c = &http.Client{Transport: &AuthTransport{}}
	assert.Equal(t, "", get(t, c, server.URL))
}

func TestAuthTransportDoesNotMutateRequest(t *testing.T) {
	server := echoAuthServer(t)
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := (&AuthTransport{Token: "t"}).RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestNewUsesContextUser(t *testing.T) {
	server := echoAuthServer(t)

	_, err := New(context.Background(), oa.Spotify)
	assert.Error(t, err)

	u := &oa.User{ID: "u1"}
	u.SetCredential(oa.Credential{Provider: oa.Spotify, AccessToken: "sp-access"})
	ctx := oa.WithUser(context.Background(), u)

	_, err = New(ctx, oa.Google)
	assert.Error(t, err)

	c, err := New(ctx, oa.Spotify)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sp-access", get(t, c, server.URL))
}

func TestForCredentialSignsOAuth1(t *testing.T) {
	server := echoAuthServer(t)
	cred := &oa.Credential{Provider: oa.Tumblr, AccessToken: "tok", TokenSecret: "sec"}

	_, err := ForCredential(context.Background(), cred)
	assert.Error(t, err, "oauth1 credentials need a consumer")

	c, err := ForCredential(context.Background(), cred, WithOAuth1(&oauth1.Config{ConsumerKey: "ck", ConsumerSecret: "cs"}))
	require.NoError(t, err)
	auth := get(t, c, server.URL)
	assert.True(t, strings.HasPrefix(auth, "OAuth "), auth)
	assert.Contains(t, auth, `oauth_token="tok"`)
	assert.Contains(t, auth, `oauth_consumer_key="ck"`)
}
