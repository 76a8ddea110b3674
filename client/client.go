// Package client builds HTTP clients that call a provider's API as the user
// whose credential the authorization guard just approved.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"

	oa "github.com/panyam/oauthlink"
)

type options struct {
	base    http.RoundTripper
	timeout time.Duration
	oauth1  *oauth1.Config
}

// Option configures a client built by New
type Option func(*options)

// WithBase sets the underlying transport
func WithBase(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// WithTimeout bounds each request made by the client
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithOAuth1 signs requests with the consumer in cfg when the credential is
// an OAuth1 token pair
func WithOAuth1(cfg *oauth1.Config) Option {
	return func(o *options) { o.oauth1 = cfg }
}

// New returns a client authorized as the user in ctx for provider. ctx must
// carry the user set by the guard (oauthlink.UserFromContext) so the token
// is the validated or freshly refreshed one.
func New(ctx context.Context, provider oa.Provider, opts ...Option) (*http.Client, error) {
	user := oa.UserFromContext(ctx)
	if user == nil {
		return nil, fmt.Errorf("no user in context")
	}
	cred := user.Credential(provider)
	if cred == nil {
		return nil, fmt.Errorf("user %s has no %s credential", user.ID, provider)
	}
	return ForCredential(ctx, cred, opts...)
}

// ForCredential returns a client authorized by cred
func ForCredential(ctx context.Context, cred *oa.Credential, opts ...Option) (*http.Client, error) {
	o := &options{base: http.DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}

	if cred.TokenSecret != "" {
		if o.oauth1 == nil {
			return nil, fmt.Errorf("%s credential needs an oauth1 consumer to sign requests", cred.Provider)
		}
		ctx = context.WithValue(ctx, oauth1.HTTPClient, &http.Client{Transport: o.base})
		c := o.oauth1.Client(ctx, oauth1.NewToken(cred.AccessToken, cred.TokenSecret))
		c.Timeout = o.timeout
		return c, nil
	}

	return &http.Client{
		Transport: &AuthTransport{Base: o.base, Token: cred.AccessToken},
		Timeout:   o.timeout,
	}, nil
}
