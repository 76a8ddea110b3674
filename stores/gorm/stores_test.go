//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	oa "github.com/panyam/oauthlink"
	"github.com/panyam/oauthlink/stores/storetest"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite allows one writer at a time
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestUserStore(t *testing.T) {
	storetest.RunUserStoreTests(t, func(t *testing.T) oa.UserStore {
		return NewUserStore(openTestDB(t))
	})
}

func TestUserStoreSealed(t *testing.T) {
	storetest.RunUserStoreTests(t, func(t *testing.T) oa.UserStore {
		sealer, err := oa.NewSecretboxSealer("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
		require.NoError(t, err)
		store := NewUserStore(openTestDB(t))
		store.Sealer = sealer
		return store
	})
}

func TestUserStoreSealsColumns(t *testing.T) {
	db := openTestDB(t)
	sealer, err := oa.NewSecretboxSealer("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	store := NewUserStore(db)
	store.Sealer = sealer

	u := &oa.User{Email: "ada@example.com"}
	u.SetProviderID(oa.Google, "g-1")
	u.SetCredential(oa.Credential{Provider: oa.Google, AccessToken: "plain-access", RefreshToken: "plain-refresh"})
	require.NoError(t, store.SaveUser(context.Background(), u))

	var row CredentialModel
	require.NoError(t, db.First(&row, "user_id = ? AND provider = ?", u.ID, "google").Error)
	assert.NotEqual(t, "plain-access", row.AccessToken)
	assert.NotEqual(t, "plain-refresh", row.RefreshToken)

	got, err := store.FindUserById(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "plain-access", got.Credential(oa.Google).AccessToken)
}

func TestUserStoreUnlinkRemovesProviderId(t *testing.T) {
	db := openTestDB(t)
	store := NewUserStore(db)
	ctx := context.Background()

	u := &oa.User{Email: "grace@example.com"}
	u.SetProviderID(oa.GitHub, "gh-1")
	u.SetCredential(oa.Credential{Provider: oa.GitHub, AccessToken: "a"})
	require.NoError(t, store.SaveUser(ctx, u))

	delete(u.ProviderIDs, oa.GitHub)
	u.Credentials = nil
	require.NoError(t, store.SaveUser(ctx, u))

	_, err := store.FindUserByProviderId(ctx, oa.GitHub, "gh-1")
	assert.ErrorIs(t, err, oa.ErrUserNotFound)

	var count int64
	require.NoError(t, db.Model(&CredentialModel{}).Where("user_id = ?", u.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUserStoreProviderIdClaimedConcurrently(t *testing.T) {
	db := openTestDB(t)
	store := NewUserStore(db)
	ctx := context.Background()

	// another sign in claims gh-1 between the ownership check and the insert
	claimed := false
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:claim_provider_id", func(tx *gorm.DB) {
		if claimed || tx.Statement.Table != "provider_ids" {
			return
		}
		claimed = true
		tx.Session(&gorm.Session{NewDB: true}).
			Exec("INSERT INTO provider_ids (provider, provider_id, user_id) VALUES (?, ?, ?)", "github", "gh-1", "someone-else")
	}))

	u := &oa.User{Email: "ada@example.com"}
	u.SetProviderID(oa.GitHub, "gh-1")
	u.SetCredential(oa.Credential{Provider: oa.GitHub, AccessToken: "a"})
	err := store.SaveUser(ctx, u)
	assert.True(t, claimed)
	assert.ErrorIs(t, err, oa.ErrProviderIdCollision)
	assert.Zero(t, u.Version)

	// the whole save rolled back
	_, err = store.FindUserById(ctx, u.ID)
	assert.ErrorIs(t, err, oa.ErrUserNotFound)
}
