package oauthlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// State is the guard's classification of a credential at request time
type State int

const (
	NoCredential State = iota + 1
	Valid
	ExpiredNoRefresh
	ExpiredRefreshExpired
	ExpiredRefreshable
)

func (s State) String() string {
	switch s {
	case NoCredential:
		return "no_credential"
	case Valid:
		return "valid"
	case ExpiredNoRefresh:
		return "expired_no_refresh"
	case ExpiredRefreshExpired:
		return "expired_refresh_expired"
	case ExpiredRefreshable:
		return "expired_refreshable"
	}
	return "unknown"
}

// Evaluate classifies cred at now. cred may be nil.
func Evaluate(cred *Credential, now time.Time) State {
	switch {
	case cred == nil:
		return NoCredential
	case !cred.AccessExpired(now):
		return Valid
	case cred.RefreshToken == "":
		return ExpiredNoRefresh
	case cred.RefreshExpired(now):
		return ExpiredRefreshExpired
	default:
		return ExpiredRefreshable
	}
}

// Decision is the outcome of authorizing one provider-scoped request
type Decision struct {
	State State

	// User is the user to continue with, refreshed if a refresh happened
	User *User

	// RedirectURL is set when the request must go back through the
	// interactive login for the provider
	RedirectURL string
}

// Proceed reports whether the guarded action may run
func (d *Decision) Proceed() bool { return d.RedirectURL == "" }

// Guard checks a user's provider credential before any action that calls the
// provider on the user's behalf, refreshing it inline when it can.
type Guard struct {
	Registry  *Registry
	Refresher *Refresher
	Now       func() time.Time

	// Prefix of the interactive login routes, "/auth" by default
	AuthPrefix string
	// Where unauthenticated requests are sent, "/login" by default
	LoginURL string
}

func (g *Guard) EnsureDefaults() *Guard {
	if g.Now == nil {
		g.Now = time.Now
	}
	if g.AuthPrefix == "" {
		g.AuthPrefix = "/auth"
	}
	if g.LoginURL == "" {
		g.LoginURL = "/login"
	}
	return g
}

// ReauthURL is where the browser goes to log in again with provider
func (g *Guard) ReauthURL(p Provider) string {
	return fmt.Sprintf("%s/%s", g.AuthPrefix, p)
}

// Authorize runs the state machine for user's provider credential. A non-nil
// error is either a store error or a *RefreshError; in both cases the request
// must not proceed with the stale token.
func (g *Guard) Authorize(ctx context.Context, user *User, provider Provider) (*Decision, error) {
	g.EnsureDefaults()
	state := Evaluate(user.Credential(provider), g.Now())
	d := &Decision{State: state, User: user}

	switch state {
	case Valid:
		return d, nil
	case NoCredential, ExpiredNoRefresh, ExpiredRefreshExpired:
		d.RedirectURL = g.ReauthURL(provider)
		return d, nil
	}

	refreshed, err := g.Refresher.Refresh(ctx, user.ID, provider)
	if errors.Is(err, ErrReauthRequired) {
		d.RedirectURL = g.ReauthURL(provider)
		return d, nil
	}
	if err != nil {
		return d, err
	}
	d.User = refreshed
	if refreshed.Credential(provider) == nil {
		// unlinked while we waited for the lock
		d.State = NoCredential
		d.RedirectURL = g.ReauthURL(provider)
	}
	return d, nil
}

// Middleware guards gorilla/mux routes carrying a {provider} variable. The
// user must already be in the request context (see App.LoadUser).
func (g *Guard) Middleware(next http.Handler) http.Handler {
	g.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			http.Redirect(w, r, g.LoginURL, http.StatusFound)
			return
		}
		provider, err := g.Registry.Parse(mux.Vars(r)["provider"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		d, err := g.Authorize(r.Context(), user, provider)
		if err != nil {
			slog.Warn("guard failed", "user", user.ID, "provider", provider, "state", d.State, "err", err)
			status := http.StatusInternalServerError
			if errors.Is(err, ErrRefreshFailed) {
				status = http.StatusBadGateway
			}
			http.Error(w, err.Error(), status)
			return
		}
		if !d.Proceed() {
			http.Redirect(w, r, d.RedirectURL, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), d.User)))
	})
}
