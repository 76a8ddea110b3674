//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore oauthlink.UserStore. It
// supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - User: User accounts. Credentials are stored as an unindexed JSON blob,
//     sealed when the store has a sealer.
//   - ProviderID: Keyed by "provider:providerId", points at the owning user.
//     Saves check and write these inside the user's transaction so a provider
//     account stays linked to at most one user.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	userStore := gae.NewUserStore(client, "")  // default namespace
package gae
