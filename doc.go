// Package oauthlink signs users in with third party OAuth providers, links
// several providers to one local account and keeps each provider credential
// usable by refreshing it on demand.
//
// # Architecture
//
// User: A local account. It carries the external id each linked provider
// knows it by and one Credential per provider.
//
// Credential: The access token, optional refresh token and their optional
// deadlines for one provider. A credential without an access deadline never
// expires. All deadline checks subtract ExpiryMargin from the current time.
//
// Strategy: Drives the interactive handshake for one provider (see the oauth2
// and oauth1 packages). Strategies are collected once into an immutable
// Registry that both the router and the Guard read.
//
// Resolver: Maps a completed handshake onto a local user. It links to the
// signed in user, signs in a returning provider account or creates a new
// user. Collisions with another account are errors; accounts are never merged.
//
// Refresher: Exchanges a refresh token for a new access token and writes the
// result back into the user's credential slot, serialized per user and
// provider.
//
// Guard: Runs before anything that calls a provider on the user's behalf and
// decides whether to pass, refresh inline or send the user back through the
// provider login.
//
// # Basic Usage
//
// Pick a store and register the enabled providers:
//
//	import (
//	    oa "github.com/panyam/oauthlink"
//	    "github.com/panyam/oauthlink/oauth2"
//	    "github.com/panyam/oauthlink/stores/fs"
//	)
//
//	store := fs.NewFSUserStore("/path/to/storage")
//	registry, err := oa.NewRegistry(
//	    oauth2.NewSpotifyOAuth2(clientId, clientSecret, "https://yourapp.com/auth/spotify/callback"),
//	    oauth2.NewGithubOAuth2(ghClientId, ghClientSecret, "https://yourapp.com/auth/github/callback"),
//	)
//
// Create the app and mount provider scoped actions. Handlers added with
// HandleAction only run once the Guard has a valid credential for the
// provider named in the path:
//
//	app := oa.New("MyApp", store, registry)
//	app.HandleAction("/api/playlists", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	    user := oa.UserFromContext(r.Context())
//	    cred := user.Credential(oa.Spotify)
//	    // call the provider with cred.AccessToken
//	}))
//	http.ListenAndServe(":8080", app.Handler())
//
// The app serves:
//
//	GET  /auth/{provider}              start the provider login
//	GET  /auth/{provider}/callback     finish it and resolve the user
//	     /auth/{provider}/...          guarded actions
//	GET  /logout                       end the session
//	POST /api/token                    bearer JWT for the session user
//	GET  /api/account                  linked providers and credential states
//
// # Store Implementations
//
// stores/fs keeps one JSON file per user, stores/gorm uses SQL through GORM
// and stores/gae uses Cloud Datastore. All of them enforce optimistic
// versioning and provider id uniqueness, and can encrypt tokens at rest with a
// TokenSealer.
//
// # Concurrency
//
// Refreshes of the same credential share one exchange within a process. Set
// Refresher.Locker to a redislock.Locker to serialize them across processes.
//
// # Testing
//
// The oauthlinktest package has an in-memory store and a scriptable strategy.
// stores/storetest is the conformance suite each store runs.
package oauthlink
