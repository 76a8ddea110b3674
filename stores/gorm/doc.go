//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based oauthlink.UserStore. It supports any
// database that GORM supports and is what the demo uses for sqlite and
// postgres deployments.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: User accounts with an optimistic locking version
//   - provider_ids: (provider, provider_id) -> user, the primary key keeps a
//     provider account linked to at most one user
//   - credentials: One row of tokens per (user, provider)
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	userStore := gormstore.NewUserStore(db)
//
// The store enables GORM's TranslateError on its own session so a provider id
// claimed by a concurrent save is reported as oauthlink.ErrProviderIdCollision.
package gorm
