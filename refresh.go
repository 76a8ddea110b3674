package oauthlink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds a single outbound refresh exchange
const DefaultRefreshTimeout = 10 * time.Second

// Locker serializes refreshes of one user/provider credential. Lock blocks
// until the key is held or ctx is done and returns the release func.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Refresher exchanges expired access tokens for new ones and writes the
// result back into the user's credential slot.
//
// # Concurrency
//
// Concurrent refreshes in this process for the same user and provider share
// one exchange through singleflight. Across processes the Locker serializes
// them; whoever takes the lock second reloads the user, sees a token that is
// no longer expired and adopts it instead of exchanging again. Providers that
// rotate refresh tokens would otherwise invalidate the loser's tokens.
type Refresher struct {
	Store   UserStore
	Tokens  TokenRefresher
	Locker  Locker
	Timeout time.Duration
	Now     func() time.Time

	group singleflight.Group
	once  sync.Once
}

func NewRefresher(store UserStore, tokens TokenRefresher) *Refresher {
	return (&Refresher{Store: store, Tokens: tokens}).EnsureDefaults()
}

func (e *Refresher) EnsureDefaults() *Refresher {
	e.once.Do(func() {
		if e.Locker == nil {
			e.Locker = NewLocalLocker()
		}
		if e.Timeout <= 0 {
			e.Timeout = DefaultRefreshTimeout
		}
		if e.Now == nil {
			e.Now = time.Now
		}
	})
	return e
}

func refreshKey(userID string, p Provider) string {
	return userID + "/" + string(p)
}

// Refresh renews the user's credential for provider and returns the user as
// persisted afterwards. If the user no longer has a credential for provider
// the stored user is returned untouched. ErrReauthRequired means the stored
// credential cannot be renewed without the user; a *RefreshError means the
// provider exchange failed or timed out. Nothing is retried.
//
// The shared exchange is not tied to any one caller: a caller whose ctx ends
// stops waiting and gets ctx.Err() while the others still receive the result.
func (e *Refresher) Refresh(ctx context.Context, userID string, provider Provider) (*User, error) {
	e.EnsureDefaults()
	key := refreshKey(userID, provider)
	flight := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key, func() (any, error) {
		return e.refreshLocked(flight, userID, provider)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		user := res.Val.(*User)
		if res.Shared {
			// callers sharing a result must not alias each other's user
			user = user.Clone()
		}
		return user, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Refresher) refreshLocked(ctx context.Context, userID string, provider Provider) (*User, error) {
	lctx, cancel := context.WithTimeout(ctx, e.Timeout)
	unlock, err := e.Locker.Lock(lctx, refreshKey(userID, provider))
	cancel()
	if err != nil {
		return nil, err
	}
	defer unlock()

	user, err := e.Store.FindUserById(ctx, userID)
	if err != nil {
		return nil, err
	}
	cred := user.Credential(provider)
	if cred == nil {
		return user, nil
	}

	now := e.Now()
	if !cred.AccessExpired(now) {
		slog.Debug("credential already refreshed", "user", userID, "provider", provider)
		return user, nil
	}
	if cred.RefreshToken == "" || cred.RefreshExpired(now) {
		return nil, ErrReauthRequired
	}

	refreshToken := cred.RefreshToken
	tctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()
	tokens, err := e.Tokens.RequestNewAccessToken(tctx, provider, refreshToken)
	if err == nil && (tokens == nil || tokens.AccessToken == "") {
		err = errors.New("provider returned no access token")
	}
	if err != nil {
		slog.Warn("token refresh failed", "user", userID, "provider", provider, "err", err)
		return nil, &RefreshError{Provider: provider, Err: err}
	}

	user, err = e.store(ctx, user, provider, refreshToken, tokens)
	if err != nil {
		return nil, err
	}
	slog.Info("refreshed access token", "user", userID, "provider", provider)
	return user, nil
}

// maxSaveAttempts bounds how often new tokens are reapplied to a reloaded
// user after version conflicts
const maxSaveAttempts = 5

// store writes tokens into the user's credential for provider. Once the
// provider has answered the old refresh token may already be revoked, so a
// version conflict reloads the user and reapplies the same tokens instead of
// failing. If the credential was removed, or replaced by one that no longer
// carries refreshToken, the stored user wins.
func (e *Refresher) store(ctx context.Context, user *User, provider Provider, refreshToken string, tokens *TokenSet) (*User, error) {
	issued := e.Now()
	for attempt := 1; ; attempt++ {
		cred := user.Credential(provider)
		if cred == nil || cred.RefreshToken != refreshToken {
			slog.Info("credential changed during refresh, keeping stored one", "user", user.ID, "provider", provider)
			return user, nil
		}
		tokens.Apply(cred, issued)
		err := e.Store.SaveUser(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt == maxSaveAttempts {
			return nil, err
		}
		slog.Debug("user changed during refresh, reapplying tokens", "user", user.ID, "provider", provider, "attempt", attempt)
		if user, err = e.Store.FindUserById(ctx, user.ID); err != nil {
			return nil, err
		}
	}
}

// LocalLocker is an in-process Locker keyed by string
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
