// Command demo is a small host app: sign in with any configured provider,
// link more providers from /account, and call each provider's API through
// the guarded /auth/{provider}/api/me action.
package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	oa "github.com/panyam/oauthlink"
	"github.com/panyam/oauthlink/client"
	"github.com/panyam/oauthlink/oauth1"
	"github.com/panyam/oauthlink/oauth2"
	"github.com/panyam/oauthlink/redislock"
)

func main() {
	_ = godotenv.Load()

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	setupLogging(cfg)

	if err := run(cfg); err != nil {
		slog.Error("demo exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	d, err := newDemo(cfg, store)
	if err != nil {
		return err
	}
	if cfg.RedisAddress != "" {
		locker, err := redislock.NewLocker(&redislock.Config{Address: cfg.RedisAddress, Password: cfg.RedisPassword})
		if err != nil {
			return err
		}
		defer locker.Close()
		d.app.Refresher.Locker = locker
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "addr", server.Addr, "store", cfg.Store, "providers", d.app.Registry.Providers())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type demo struct {
	app *oa.App

	// provider -> URL of its "who am i" endpoint
	meURLs map[oa.Provider]string
	tumblr *oauth1.TumblrOAuth1
}

func newDemo(cfg *Config, store oa.UserStore) (*demo, error) {
	d := &demo{meURLs: map[oa.Provider]string{}}
	var strategies []oa.Strategy

	addOAuth2 := func(p oa.Provider, s oa.Strategy, base *oauth2.BaseOAuth2) {
		strategies = append(strategies, s)
		d.meURLs[p] = base.UserInfoURL
	}
	if cfg.Spotify.Enabled() {
		s := oauth2.NewSpotifyOAuth2(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.callbackURL(cfg.Spotify, "spotify"))
		addOAuth2(oa.Spotify, s, s.BaseOAuth2)
	}
	if cfg.Google.Enabled() {
		s := oauth2.NewGoogleOAuth2(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.callbackURL(cfg.Google, "google"))
		addOAuth2(oa.Google, s, s.BaseOAuth2)
	}
	if cfg.GitHub.Enabled() {
		s := oauth2.NewGithubOAuth2(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.callbackURL(cfg.GitHub, "github"))
		addOAuth2(oa.GitHub, s, s.BaseOAuth2)
	}
	if cfg.LinkedIn.Enabled() {
		s := oauth2.NewLinkedInOAuth2(cfg.LinkedIn.ClientID, cfg.LinkedIn.ClientSecret, cfg.callbackURL(cfg.LinkedIn, "linkedin"))
		addOAuth2(oa.LinkedIn, s, s.BaseOAuth2)
	}
	if cfg.Tumblr.Enabled() {
		d.tumblr = oauth1.NewTumblrOAuth1(cfg.Tumblr.ClientID, cfg.Tumblr.ClientSecret, cfg.callbackURL(cfg.Tumblr, "tumblr"))
		strategies = append(strategies, d.tumblr)
		d.meURLs[oa.Tumblr] = d.tumblr.UserInfoURL
	}
	if len(strategies) == 0 {
		slog.Warn("no provider client ids configured, only /login will work")
	}

	registry, err := oa.NewRegistry(strategies...)
	if err != nil {
		return nil, err
	}

	jwtKey := cfg.JWTSecretKey
	if jwtKey == "" {
		jwtKey = cfg.SessionSecret
	}
	d.app = &oa.App{
		AppName:      "OAuthLinkDemo",
		Store:        store,
		Registry:     registry,
		JWTSecretKey: jwtKey,
		Refresher:    &oa.Refresher{Store: store, Tokens: registry, Timeout: cfg.RefreshTimeout},
	}
	d.app.EnsureDefaults()
	return d, nil
}

func (d *demo) Handler() http.Handler {
	r := d.app.Router()
	r.HandleFunc("/", d.onHome)
	r.HandleFunc("/login", d.onLogin)
	r.Handle("/account", d.app.Middleware.EnsureUser(http.HandlerFunc(d.onAccount)))
	d.app.HandleAction("/api/me", http.HandlerFunc(d.onProviderMe))
	return d.app.Handler()
}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html><body>
{{if .Flash}}<p style="color:#a00">{{.Flash}}</p>{{end}}
{{if .User}}
<p>Signed in as {{.User.DisplayName}} ({{.User.Email}}) - <a href="/logout">log out</a></p>
<ul>
{{range .Providers}}<li>{{.Name}}: {{if .Linked}}linked, <a href="/auth/{{.Name}}/api/me">call API</a>{{else}}<a href="/auth/{{.Name}}?callbackURL=/account">link</a>{{end}}</li>
{{end}}</ul>
{{else}}
<p>Sign in with:</p>
<ul>{{range .Providers}}{{if not .LinkOnly}}<li><a href="/auth/{{.Name}}?callbackURL=/account">{{.Name}}</a></li>{{end}}{{end}}</ul>
{{end}}
</body></html>`))

type providerRow struct {
	Name     oa.Provider
	Linked   bool
	LinkOnly bool
}

func (d *demo) render(w http.ResponseWriter, r *http.Request, user *oa.User) {
	var rows []providerRow
	for _, p := range d.app.Registry.Providers() {
		s, _ := d.app.Registry.Lookup(p)
		rows = append(rows, providerRow{
			Name:     p,
			Linked:   user != nil && user.Credential(p) != nil,
			LinkOnly: s.LinkOnly(),
		})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := pageTemplate.Execute(w, map[string]any{
		"Flash":     d.app.PopFlash(r),
		"User":      user,
		"Providers": rows,
	})
	if err != nil {
		slog.Warn("render failed", "err", err)
	}
}

func (d *demo) onHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if d.app.Middleware.GetLoggedInUserId(r) != "" {
		http.Redirect(w, r, "/account", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (d *demo) onLogin(w http.ResponseWriter, r *http.Request) {
	d.render(w, r, nil)
}

func (d *demo) onAccount(w http.ResponseWriter, r *http.Request) {
	d.render(w, r, oa.UserFromContext(r.Context()))
}

// onProviderMe runs behind the guard, so the credential in context is valid
func (d *demo) onProviderMe(w http.ResponseWriter, r *http.Request) {
	user := oa.UserFromContext(r.Context())
	provider, err := d.app.Registry.Parse(mux.Vars(r)["provider"])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	meURL := d.meURLs[provider]

	opts := []client.Option{client.WithTimeout(10 * time.Second)}
	if provider == oa.Tumblr && d.tumblr != nil {
		opts = append(opts, client.WithOAuth1(d.tumblr.Config()))
	}
	c, err := client.New(r.Context(), provider, opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, meURL, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp, err := c.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	slog.Info("provider api call", "user", user.ID, "provider", provider, "status", resp.StatusCode)
	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
