package oauthlink

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type Middleware struct {
	AuthTokenHeaderName string
	AuthTokenCookieName string
	UserParamName       string
	CallbackURLParam    string
	LoginURL            string
	SessionGetter       func(r *http.Request, param string) string
	VerifyToken         func(tokenString string) (loggedInUserId string, err error)
	Store               UserStore
}

/**
 * Ensures that config values have reasonable defaults.
 */
func (a *Middleware) EnsureReasonableDefaults() {
	if a.UserParamName == "" {
		a.UserParamName = "loggedInUserId"
	}
	if a.CallbackURLParam == "" {
		a.CallbackURLParam = "callbackURL"
	}
	if a.AuthTokenHeaderName == "" {
		a.AuthTokenHeaderName = "Authorization"
	}
	if a.LoginURL == "" {
		a.LoginURL = "/login"
	}
}

// Get the ID of the logged in user from the session, falling back to a
// bearer token in the auth header or auth cookie
func (a *Middleware) GetLoggedInUserId(r *http.Request) string {
	if u := UserFromContext(r.Context()); u != nil {
		return u.ID
	}

	if a.SessionGetter != nil {
		if userId := a.SessionGetter(r, a.UserParamName); userId != "" {
			return userId
		}
	}

	if a.VerifyToken == nil {
		return ""
	}

	var authTokens []string
	for _, h := range r.Header.Values(a.AuthTokenHeaderName) {
		authTokens = append(authTokens, strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
	}
	if a.AuthTokenCookieName != "" {
		for _, cookie := range r.CookiesNamed(a.AuthTokenCookieName) {
			if len(cookie.Value) > 0 {
				authTokens = append(authTokens, cookie.Value)
			}
		}
	}

	for _, authToken := range authTokens {
		loggedInUserId, err := a.VerifyToken(authToken)
		if err == nil && loggedInUserId != "" {
			return loggedInUserId
		} else if err != nil {
			slog.Warn("error verifying auth token", "error", err)
		}
	}
	return ""
}

/**
 * Loads the logged in user (if any) from the store into the request context.
 *
 * Note this does not perform any redirects if a valid user does not exist.
 * To also enforce a user exists, chain with EnsureUser.
 */
func (a *Middleware) LoadUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		userId := a.GetLoggedInUserId(r)
		if userId == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := a.Store.FindUserById(r.Context(), userId)
		if errors.Is(err, ErrUserNotFound) {
			slog.Warn("session refers to missing user", "user", userId)
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// EnsureUser redirects to the login page when no user was loaded
func (a *Middleware) EnsureUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return a.LoadUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			originalUrl := r.URL.Path
			encodedUrl := strings.Replace(url.QueryEscape(originalUrl), "+", "%20", -1)
			http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", a.LoginURL, a.CallbackURLParam, encodedUrl), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	}))
}
