package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oa "github.com/panyam/oauthlink"
	"github.com/panyam/oauthlink/stores/storetest"
)

const testSealKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestFSUserStore(t *testing.T) {
	storetest.RunUserStoreTests(t, func(t *testing.T) oa.UserStore {
		return NewFSUserStore(t.TempDir())
	})
}

func TestFSUserStoreSealed(t *testing.T) {
	storetest.RunUserStoreTests(t, func(t *testing.T) oa.UserStore {
		sealer, err := oa.NewSecretboxSealer(testSealKey)
		require.NoError(t, err)
		store := NewFSUserStore(t.TempDir())
		store.Sealer = sealer
		return store
	})
}

func TestFSUserStoreSealsTokensOnDisk(t *testing.T) {
	dir := t.TempDir()
	sealer, err := oa.NewSecretboxSealer(testSealKey)
	require.NoError(t, err)
	store := NewFSUserStore(dir)
	store.Sealer = sealer

	u := &oa.User{Email: "ada@example.com"}
	u.SetProviderID(oa.Spotify, "sp-1")
	u.SetCredential(oa.Credential{Provider: oa.Spotify, AccessToken: "plain-access", RefreshToken: "plain-refresh"})
	require.NoError(t, store.SaveUser(context.Background(), u))

	data, err := os.ReadFile(filepath.Join(dir, "users", u.ID+".json"))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "plain-access"))
	assert.False(t, strings.Contains(string(data), "plain-refresh"))

	// caller's copy is untouched by sealing
	assert.Equal(t, "plain-access", u.Credential(oa.Spotify).AccessToken)

	// a store without the key cannot read the tokens back in the clear
	plain := NewFSUserStore(dir)
	got, err := plain.FindUserById(context.Background(), u.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "plain-access", got.Credential(oa.Spotify).AccessToken)
}

func TestFSUserStoreRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store := NewFSUserStore(dir)
	_, err := store.FindUserById(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, oa.ErrUserNotFound)
	assert.Equal(t, filepath.Join(dir, "users", "passwd.json"), store.getUserPath("../../etc/passwd"))
}
