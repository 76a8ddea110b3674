package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	oa "github.com/panyam/oauthlink"
)

// InterceptorConfig configures the guard interceptor.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Guard decides whether the user's provider credential is usable,
	// refreshing it when it can. Required.
	Guard *oa.Guard

	// Store loads the user named in metadata. Required.
	Store oa.UserStore

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool

	// MethodProviders pins methods to the provider they call. A pinned
	// method ignores the provider metadata.
	MethodProviders map[string]oa.Provider

	// VerifyToken authenticates the bearer token in the authorization
	// metadata and returns its user id, eg App.VerifyToken. When set the user
	// id metadata is ignored.
	VerifyToken func(token string) (userID string, err error)
}

// NewInterceptorConfig creates a config with the specified public methods.
func NewInterceptorConfig(guard *oa.Guard, store oa.UserStore, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		Guard:         guard,
		Store:         store,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// UnaryGuardInterceptor loads the user from metadata and, when the caller
// names a provider, runs the guard before the handler. The handler sees the
// possibly refreshed user via oauthlink.UserFromContext.
//
// With VerifyToken set the user comes from a verified bearer token. Without it
// the user id metadata is trusted as is, which is only safe behind a gateway
// that authenticates callers and sets that key itself.
//
// Errors map to codes as follows: no user or a credential that needs an
// interactive login is Unauthenticated (the re-auth URL goes back in the
// response header), an unknown provider is InvalidArgument, a failed refresh
// is Unavailable and anything else is Internal.
func UnaryGuardInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if config.PublicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		ctx, err := authorize(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamGuardInterceptor is the streaming counterpart of UnaryGuardInterceptor.
func StreamGuardInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if config.PublicMethods[info.FullMethod] {
			return handler(srv, ss)
		}
		ctx, err := authorize(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &guardedStream{ServerStream: ss, ctx: ctx})
	}
}

type guardedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *guardedStream) Context() context.Context { return s.ctx }

func authorize(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	userID, err := callerID(ctx, config)
	if err != nil {
		return nil, err
	}
	user, err := config.Store.FindUserById(ctx, userID)
	if errors.Is(err, oa.ErrUserNotFound) {
		return nil, status.Error(codes.Unauthenticated, "unknown user")
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "loading user: %v", err)
	}

	rawProvider := string(config.MethodProviders[method])
	if rawProvider == "" {
		rawProvider = firstValue(ctx, config.MetadataKeyProvider)
	}
	if rawProvider == "" {
		return oa.WithUser(ctx, user), nil
	}
	provider, err := config.Guard.Registry.Parse(rawProvider)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	d, err := config.Guard.Authorize(ctx, user, provider)
	if err != nil {
		slog.Warn("rpc guard failed", "user", user.ID, "provider", provider, "err", err)
		if errors.Is(err, oa.ErrRefreshFailed) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !d.Proceed() {
		grpc.SetHeader(ctx, metadata.Pairs(config.MetadataKeyReauthURL, d.RedirectURL))
		return nil, status.Errorf(codes.Unauthenticated, "%s credential %s, log in again", provider, d.State)
	}
	return oa.WithUser(ctx, d.User), nil
}

func callerID(ctx context.Context, config *InterceptorConfig) (string, error) {
	if config.VerifyToken == nil {
		if userID := firstValue(ctx, config.MetadataKeyUserID); userID != "" {
			return userID, nil
		}
		return "", status.Error(codes.Unauthenticated, "authentication required")
	}
	token, ok := strings.CutPrefix(firstValue(ctx, MetadataKeyAuthorization), "Bearer ")
	if !ok || token == "" {
		return "", status.Error(codes.Unauthenticated, "bearer token required")
	}
	userID, err := config.VerifyToken(token)
	if err != nil {
		slog.Debug("rejected bearer token", "err", err)
		return "", status.Error(codes.Unauthenticated, "invalid token")
	}
	return userID, nil
}
