package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/datastore"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	oa "github.com/panyam/oauthlink"
	"github.com/panyam/oauthlink/stores/fs"
	"github.com/panyam/oauthlink/stores/gae"
	gormstore "github.com/panyam/oauthlink/stores/gorm"
)

// openStore builds the UserStore named by STORE. The returned func releases
// its connections.
func openStore(ctx context.Context, cfg *Config) (oa.UserStore, func(), error) {
	var sealer oa.TokenSealer
	if cfg.TokenSealKey != "" {
		s, err := oa.NewSecretboxSealer(cfg.TokenSealKey)
		if err != nil {
			return nil, nil, err
		}
		sealer = s
	}

	switch cfg.Store {
	case "fs":
		store := fs.NewFSUserStore(cfg.StorePath)
		store.Sealer = sealer
		return store, func() {}, nil

	case "sqlite", "postgres":
		var dialector gorm.Dialector
		if cfg.Store == "sqlite" {
			if err := os.MkdirAll(cfg.StorePath, 0755); err != nil {
				return nil, nil, err
			}
			dialector = sqlite.Open(filepath.Join(cfg.StorePath, "oauthlink.db"))
		} else {
			dialector = postgres.Open(cfg.DatabaseURL)
		}
		db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", cfg.Store, err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate: %w", err)
		}
		store := gormstore.NewUserStore(db)
		store.Sealer = sealer
		closer := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return store, closer, nil

	case "datastore":
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		store := gae.NewUserStore(client, cfg.DatastoreNamespace)
		store.Sealer = sealer
		return store, func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}
