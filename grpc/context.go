// Package grpc carries the signed-in user and the target provider over gRPC
// metadata and runs the authorization guard for provider-scoped RPCs.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// Default metadata keys for authentication context.
const (
	// DefaultMetadataKeyUserID is the default gRPC metadata key for the authenticated user ID
	DefaultMetadataKeyUserID = "x-user-id"

	// DefaultMetadataKeyProvider names the provider an RPC will call on the user's behalf
	DefaultMetadataKeyProvider = "x-provider"

	// DefaultMetadataKeyReauthURL is set on the response header when the
	// user has to log in with the provider again
	DefaultMetadataKeyReauthURL = "x-reauth-url"

	// MetadataKeyAuthorization carries "Bearer <token>" when tokens are verified
	MetadataKeyAuthorization = "authorization"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyUserID defaults to "x-user-id".
	MetadataKeyUserID string

	// MetadataKeyProvider defaults to "x-provider".
	MetadataKeyProvider string

	// MetadataKeyReauthURL defaults to "x-reauth-url".
	MetadataKeyReauthURL string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return (&Config{}).EnsureDefaults()
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() *Config {
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
	if c.MetadataKeyProvider == "" {
		c.MetadataKeyProvider = DefaultMetadataKeyProvider
	}
	if c.MetadataKeyReauthURL == "" {
		c.MetadataKeyReauthURL = DefaultMetadataKeyReauthURL
	}
	return c
}

func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// UserIDFromContext extracts the authenticated user ID from the gRPC context metadata.
// Returns empty string if no user is authenticated.
func UserIDFromContext(ctx context.Context) string {
	return UserIDFromContextWithConfig(ctx, nil)
}

// UserIDFromContextWithConfig extracts the authenticated user ID using the specified config.
func UserIDFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	return firstValue(ctx, config.EnsureDefaults().MetadataKeyUserID)
}

// ProviderFromContext returns the raw provider name sent by the caller
func ProviderFromContext(ctx context.Context) string {
	return ProviderFromContextWithConfig(ctx, nil)
}

func ProviderFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	return firstValue(ctx, config.EnsureDefaults().MetadataKeyProvider)
}

// UserIDToOutgoingContext adds the user ID to outgoing gRPC context metadata.
func UserIDToOutgoingContext(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyUserID, userID)
}

// ProviderToOutgoingContext names the provider the called RPC should act against.
func ProviderToOutgoingContext(ctx context.Context, provider string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyProvider, provider)
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}
