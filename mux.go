package oauthlink

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

const (
	callbackURLCookie = "oauthCallbackURL"
	flashSessionKey   = "flash"
)

// App wires the provider strategies, identity resolution and the
// authorization guard into an http.Handler:
//
//	GET /auth/{provider}            start the interactive login
//	GET /auth/{provider}/callback   finish it and resolve the user
//	    /auth/{provider}/...        actions added with HandleAction, guarded
//	GET /logout                     end the session
//	POST /api/token                 swap the session for a bearer JWT
//	GET /api/account                linked providers and credential states
type App struct {
	router  *mux.Router
	actions *mux.Router

	Session    *scs.SessionManager
	Middleware Middleware

	// Optional name that can be used as a prefix for all required vars
	AppName string

	// Name of the session variable where the auth token is stored
	AuthTokenSessionVar string

	// Must be passed in
	Store    UserStore
	Registry *Registry

	Resolver  *Resolver
	Refresher *Refresher
	Guard     *Guard

	AuthPrefix string
	LoginURL   string
	AccountURL string

	// All the domains where the auth token cookies will be set on a login success or logout
	CookieDomains []string

	// JWT related fields
	JwtIssuer    string
	JWTSecretKey string

	// How long is a session cookie valid for.  Defaults to 1 day
	SessionTimeoutInSeconds int
}

func New(appName string, store UserStore, registry *Registry) *App {
	return (&App{AppName: appName, Store: store, Registry: registry}).EnsureDefaults()
}

func (a *App) EnsureDefaults() *App {
	if a.AppName == "" {
		a.AppName = "OAuthLink"
	}
	if a.SessionTimeoutInSeconds <= 0 {
		a.SessionTimeoutInSeconds = 86400
	}
	if a.JwtIssuer == "" {
		a.JwtIssuer = fmt.Sprintf("%s-Issuer", a.AppName)
	}
	if a.AuthTokenSessionVar == "" {
		a.AuthTokenSessionVar = fmt.Sprintf("%sAuthToken", a.AppName)
	}
	if a.JWTSecretKey == "" {
		a.JWTSecretKey = strings.TrimSpace(os.Getenv("OAUTHLINK_JWT_SECRET_KEY"))
		if a.JWTSecretKey == "" {
			a.JWTSecretKey = "MyTestJWTSecretKey123456"
		}
	}
	if a.AuthPrefix == "" {
		a.AuthPrefix = "/auth"
	}
	if a.LoginURL == "" {
		a.LoginURL = "/login"
	}
	if a.AccountURL == "" {
		a.AccountURL = "/account"
	}
	if a.Session == nil {
		a.Session = scs.New()
		a.Session.Lifetime = time.Duration(a.SessionTimeoutInSeconds) * time.Second
	}
	if a.Resolver == nil {
		a.Resolver = NewResolver(a.Store)
	}
	if a.Refresher == nil {
		a.Refresher = NewRefresher(a.Store, a.Registry)
	}
	if a.Guard == nil {
		a.Guard = &Guard{Registry: a.Registry, Refresher: a.Refresher}
	}
	if a.Guard.AuthPrefix == "" {
		a.Guard.AuthPrefix = a.AuthPrefix
	}
	if a.Guard.LoginURL == "" {
		a.Guard.LoginURL = a.LoginURL
	}
	a.Guard.EnsureDefaults()

	m := &a.Middleware
	if m.AuthTokenCookieName == "" {
		m.AuthTokenCookieName = a.AuthTokenSessionVar
	}
	if m.LoginURL == "" {
		m.LoginURL = a.LoginURL
	}
	if m.Store == nil {
		m.Store = a.Store
	}
	if m.SessionGetter == nil {
		m.SessionGetter = func(r *http.Request, param string) string {
			return a.Session.GetString(r.Context(), param)
		}
	}
	if m.VerifyToken == nil {
		m.VerifyToken = a.VerifyToken
	}
	m.EnsureReasonableDefaults()
	return a
}

// Handler returns the app's routes wrapped in session load/save
func (a *App) Handler() http.Handler {
	return a.Session.LoadAndSave(a.setupRoutes().router)
}

// Router exposes the underlying router so hosts can add their own routes
func (a *App) Router() *mux.Router {
	return a.setupRoutes().router
}

// HandleAction mounts handler at /auth/{provider}{path}. Requests reach it
// only after the guard has confirmed (or refreshed) the user's credential
// for that provider; the handler reads it via UserFromContext.
func (a *App) HandleAction(path string, handler http.Handler) *mux.Route {
	return a.setupRoutes().actions.Handle(path, handler)
}

func (a *App) setupRoutes() *App {
	if a.router != nil {
		return a
	}
	a.EnsureDefaults()
	r := mux.NewRouter()
	r.HandleFunc("/logout", a.onLogout)
	r.HandleFunc("/api/token", a.HandleToken).Methods(http.MethodPost)
	r.Handle("/api/account", a.Middleware.LoadUser(http.HandlerFunc(a.HandleAccount))).Methods(http.MethodGet)

	if len(a.Registry.Providers()) > 0 {
		base := fmt.Sprintf("%s/{provider:%s}", a.AuthPrefix, a.Registry.RoutePattern())
		r.HandleFunc(base, a.onBeginAuth).Methods(http.MethodGet)
		r.HandleFunc(base+"/callback", a.onCallback)
		a.actions = r.PathPrefix(base).Subrouter()
		a.actions.Use(a.Middleware.LoadUser, a.Guard.Middleware)
	} else {
		slog.Warn("no providers registered")
		a.actions = mux.NewRouter()
	}
	a.router = r
	return a
}

func (a *App) strategyFor(r *http.Request) (Strategy, error) {
	p, err := a.Registry.Parse(mux.Vars(r)["provider"])
	if err != nil {
		return nil, err
	}
	return a.Registry.Lookup(p)
}

func (a *App) onBeginAuth(w http.ResponseWriter, r *http.Request) {
	s, err := a.strategyFor(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if callbackURL := r.URL.Query().Get("callbackURL"); callbackURL != "" {
		http.SetCookie(w, &http.Cookie{
			Name:   callbackURLCookie,
			Value:  callbackURL,
			Path:   "/",
			MaxAge: 120, // keep this short
		})
	}
	s.BeginAuth(w, r)
}

/**
 * Called by the provider's redirect after the user approves access.
 *
 * Here is our opportunity to:
 * 	1. Resolve the provider profile onto a local user (link, sign in or create)
 *	2. Set the right session cookies from this.
 */
func (a *App) onCallback(w http.ResponseWriter, r *http.Request) {
	s, err := a.strategyFor(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	hs, err := s.CompleteAuth(w, r)
	if err != nil {
		slog.Info("provider handshake failed", "provider", s.Provider(), "err", err)
		a.Flash(r, fmt.Sprintf("Sign in with %s failed. Please try again.", s.Provider()))
		http.Redirect(w, r, a.LoginURL, http.StatusFound)
		return
	}

	sessionUserId := a.Middleware.GetLoggedInUserId(r)
	res, err := a.Resolver.Resolve(r.Context(), sessionUserId, hs, s.LinkOnly())
	switch {
	case errors.Is(err, ErrProviderIdCollision), errors.Is(err, ErrEmailCollision), errors.Is(err, ErrLinkRequiresLogin):
		a.Flash(r, err.Error())
		target := a.LoginURL
		if sessionUserId != "" {
			target = a.AccountURL
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.setLoggedInUser(res.User, w, r)

	// Auth done - go back to where we need to be
	callbackURL := "/"
	if c, _ := r.Cookie(callbackURLCookie); c != nil {
		callbackURL = localRedirect(c.Value)
	}
	// then delete it too so it wont be used for subsequent redirects
	http.SetCookie(w, &http.Cookie{
		Name:   callbackURLCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1, Expires: time.Now(),
	})
	log.Printf("%s %s via %s, redirecting to %s", res.Outcome, res.User.ID, s.Provider(), callbackURL)
	http.Redirect(w, r, callbackURL, http.StatusFound)
}

func (a *App) onLogout(w http.ResponseWriter, r *http.Request) {
	a.setLoggedInUser(nil, w, r)
	http.Redirect(w, r, localRedirect(r.URL.Query().Get("to")), http.StatusFound)
}

// localRedirect returns target if it is a path on this site and "/" otherwise
func localRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return target
}

// Flash stores a one-shot user facing message in the session
func (a *App) Flash(r *http.Request, msg string) {
	a.Session.Put(r.Context(), flashSessionKey, msg)
}

// PopFlash returns and clears the pending flash message
func (a *App) PopFlash(r *http.Request) string {
	return a.Session.PopString(r.Context(), flashSessionKey)
}

// IssueToken signs a JWT for API callers that cannot hold a session cookie
func (a *App) IssueToken(userId string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userId,
		"iss": a.JwtIssuer,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	})
	return token.SignedString([]byte(a.JWTSecretKey))
}

// VerifyToken checks a JWT issued by IssueToken and returns its subject
func (a *App) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(a.JWTSecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(a.JwtIssuer))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", fmt.Errorf("subject not found")
	}
	return sub, nil
}

// Generic helper method to set the auth token and logged in user ID on a bunch of cookie domains we care about.
// This can also be used to "unset/logout" the logged in user.
func (a *App) setLoggedInUser(user *User, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	domains := a.CookieDomains
	if slices.Index(a.CookieDomains, "") < 0 { // default domain
		domains = append(domains, "")
	}

	if user == nil {
		if err := a.Session.Destroy(ctx); err != nil {
			slog.Warn("error destroying session", "err", err)
		}
		for _, cookieDomain := range domains {
			http.SetCookie(w, &http.Cookie{
				Name:    a.AuthTokenSessionVar,
				Domain:  cookieDomain,
				Path:    "/",
				MaxAge:  -1,
				Expires: time.Now(),
			})
		}
		return
	}

	if err := a.Session.RenewToken(ctx); err != nil {
		slog.Warn("error renewing session token", "err", err)
	}
	a.Session.Put(ctx, a.Middleware.UserParamName, user.ID)

	tokenString, err := a.IssueToken(user.ID, time.Duration(a.SessionTimeoutInSeconds)*time.Second)
	if err != nil {
		slog.Info("error signing token", "err", err)
		return
	}
	for _, cookieDomain := range domains {
		http.SetCookie(w, &http.Cookie{
			Name:     a.AuthTokenSessionVar,
			Value:    tokenString,
			Domain:   cookieDomain,
			Path:     "/",
			HttpOnly: true,
			Expires:  time.Now().Add(time.Second * time.Duration(a.SessionTimeoutInSeconds)), MaxAge: a.SessionTimeoutInSeconds,
		})
	}
}
