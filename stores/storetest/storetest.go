// Package storetest holds behaviour tests every UserStore implementation
// must pass. Store packages call RunUserStoreTests from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oa "github.com/panyam/oauthlink"
)

// RunUserStoreTests runs the shared suite against stores built by newStore.
// Each subtest gets a fresh, empty store.
func RunUserStoreTests(t *testing.T, newStore func(t *testing.T) oa.UserStore) {
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore(t)) })
	t.Run("VersionConflict", func(t *testing.T) { testVersionConflict(t, newStore(t)) })
	t.Run("ProviderIdUnique", func(t *testing.T) { testProviderIdUnique(t, newStore(t)) })
	t.Run("CredentialUpdate", func(t *testing.T) { testCredentialUpdate(t, newStore(t)) })
	t.Run("ConcurrentSaves", func(t *testing.T) { testConcurrentSaves(t, newStore(t)) })
}

func newUser(email string) *oa.User {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	u := &oa.User{Email: email, DisplayName: "Ada"}
	u.SetProviderID(oa.Spotify, "sp-"+email)
	u.SetCredential(oa.Credential{
		Provider:             oa.Spotify,
		AccessToken:          "access-" + email,
		RefreshToken:         "refresh-" + email,
		AccessTokenExpiresAt: &expires,
	})
	return u
}

func testNotFound(t *testing.T, store oa.UserStore) {
	ctx := context.Background()
	_, err := store.FindUserById(ctx, "missing")
	assert.True(t, errors.Is(err, oa.ErrUserNotFound), "got %v", err)

	_, err = store.FindUserByProviderId(ctx, oa.Spotify, "missing")
	assert.True(t, errors.Is(err, oa.ErrUserNotFound), "got %v", err)

	_, err = store.FindUserByEmail(ctx, "missing@example.com")
	assert.True(t, errors.Is(err, oa.ErrUserNotFound), "got %v", err)
}

func testCreateAndFind(t *testing.T, store oa.UserStore) {
	ctx := context.Background()
	u := newUser("ada@example.com")
	require.NoError(t, store.SaveUser(ctx, u))
	require.NotEmpty(t, u.ID)
	assert.Equal(t, 1, u.Version)

	byId, err := store.FindUserById(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", byId.Email)
	assert.Equal(t, 1, byId.Version)
	cred := byId.Credential(oa.Spotify)
	require.NotNil(t, cred)
	assert.Equal(t, "access-ada@example.com", cred.AccessToken)
	assert.Equal(t, "refresh-ada@example.com", cred.RefreshToken)
	require.NotNil(t, cred.AccessTokenExpiresAt)
	assert.True(t, cred.AccessTokenExpiresAt.Equal(*u.Credential(oa.Spotify).AccessTokenExpiresAt))

	byProvider, err := store.FindUserByProviderId(ctx, oa.Spotify, "sp-ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byProvider.ID)

	byEmail, err := store.FindUserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
}

func testVersionConflict(t *testing.T, store oa.UserStore) {
	ctx := context.Background()
	u := newUser("grace@example.com")
	require.NoError(t, store.SaveUser(ctx, u))

	first, err := store.FindUserById(ctx, u.ID)
	require.NoError(t, err)
	second, err := store.FindUserById(ctx, u.ID)
	require.NoError(t, err)

	first.DisplayName = "first"
	require.NoError(t, store.SaveUser(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.DisplayName = "second"
	err = store.SaveUser(ctx, second)
	assert.True(t, errors.Is(err, oa.ErrVersionConflict), "got %v", err)

	got, err := store.FindUserById(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.DisplayName)

	// creating over an existing id also conflicts
	dup := newUser("other@example.com")
	dup.ID = u.ID
	dup.ProviderIDs = nil
	err = store.SaveUser(ctx, dup)
	assert.True(t, errors.Is(err, oa.ErrVersionConflict), "got %v", err)
}

func testProviderIdUnique(t *testing.T, store oa.UserStore) {
	ctx := context.Background()
	a := newUser("a@example.com")
	require.NoError(t, store.SaveUser(ctx, a))

	b := newUser("b@example.com")
	b.SetProviderID(oa.Spotify, "sp-a@example.com")
	err := store.SaveUser(ctx, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, oa.ErrProviderIdCollision), "got %v", err)

	owner, err := store.FindUserByProviderId(ctx, oa.Spotify, "sp-a@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, owner.ID)
}

func testCredentialUpdate(t *testing.T, store oa.UserStore) {
	ctx := context.Background()
	u := newUser("linus@example.com")
	require.NoError(t, store.SaveUser(ctx, u))

	loaded, err := store.FindUserById(ctx, u.ID)
	require.NoError(t, err)
	cred := loaded.Credential(oa.Spotify)
	cred.AccessToken = "rotated"
	cred.AccessTokenExpiresAt = nil
	loaded.SetProviderID(oa.Google, "g-123")
	loaded.SetCredential(oa.Credential{Provider: oa.Google, AccessToken: "g-access"})
	require.NoError(t, store.SaveUser(ctx, loaded))

	got, err := store.FindUserById(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, got.Credentials, 2)
	assert.Equal(t, "rotated", got.Credential(oa.Spotify).AccessToken)
	assert.Equal(t, "refresh-linus@example.com", got.Credential(oa.Spotify).RefreshToken)
	assert.Nil(t, got.Credential(oa.Spotify).AccessTokenExpiresAt)
	assert.Equal(t, "g-access", got.Credential(oa.Google).AccessToken)

	byGoogle, err := store.FindUserByProviderId(ctx, oa.Google, "g-123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byGoogle.ID)
}

func testConcurrentSaves(t *testing.T, store oa.UserStore) {
	ctx := context.Background()
	u := newUser("race@example.com")
	require.NoError(t, store.SaveUser(ctx, u))

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < writers; i++ {
		c := u.Clone()
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.DisplayName = "writer"
			if err := store.SaveUser(ctx, c); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// all writers started from the same version so exactly one may win
	assert.Equal(t, 1, wins)
	got, err := store.FindUserById(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
}
