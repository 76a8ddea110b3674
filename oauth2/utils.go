package oauth2

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

const stateCookieName = "oauthstate"

func generateStateOauthCookie(w http.ResponseWriter) string {
	var expiration = time.Now().Add(10 * time.Minute)
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		slog.Error("error generating oauth state", "err", err)
	}
	state := base64.URLEncoding.EncodeToString(b)
	cookie := http.Cookie{Name: stateCookieName, Value: state, Path: "/", Expires: expiration, HttpOnly: true}
	http.SetCookie(w, &cookie)
	return state
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})
}

// OauthRedirector returns a handler that sets a fresh state cookie and sends
// the browser to the provider's consent page
func OauthRedirector(oauthConfig *oauth2.Config, opts ...oauth2.AuthCodeOption) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		oauthState := generateStateOauthCookie(w)
		u := oauthConfig.AuthCodeURL(oauthState, opts...)
		http.Redirect(w, r, u, http.StatusFound)
	}
}

// verifyState checks the callback's state parameter against the cookie set
// by the redirector and clears the cookie either way
func verifyState(w http.ResponseWriter, r *http.Request) error {
	oauthState, _ := r.Cookie(stateCookieName)
	clearStateCookie(w)
	if oauthState == nil || oauthState.Value == "" {
		return fmt.Errorf("oauth state cookie missing")
	}
	if r.FormValue("state") != oauthState.Value {
		return fmt.Errorf("invalid oauth state")
	}
	return nil
}

// stringField reads a JSON field that providers send as either a string or a number
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func boolField(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// secondsField reads a lifetime in seconds from a token response extra
func secondsField(v any) time.Duration {
	switch n := v.(type) {
	case float64:
		return time.Duration(n) * time.Second
	case int64:
		return time.Duration(n) * time.Second
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return 0
}
