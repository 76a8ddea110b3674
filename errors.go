package oauthlink

import (
	"errors"
	"fmt"
)

var (
	// Policy rejections from identity resolution. Account merging is not supported.
	ErrProviderIdCollision = errors.New("provider account is already linked to a different user")
	ErrEmailCollision      = errors.New("an account with this email already exists; sign in to that account and link this provider from account settings")
	ErrLinkRequiresLogin   = errors.New("provider can only be linked to a signed-in account")

	// Store errors
	ErrUserNotFound    = errors.New("user not found")
	ErrVersionConflict = errors.New("user was modified concurrently")

	// Provider errors
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrDuplicateProvider  = errors.New("duplicate provider registration")
	ErrRefreshUnsupported = errors.New("provider does not support token refresh")

	// Refresh outcomes
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrReauthRequired = errors.New("interactive re-authentication required")
)

// RefreshError reports a failed refresh exchange with a provider
type RefreshError struct {
	Provider Provider
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrRefreshFailed, e.Provider, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool { return target == ErrRefreshFailed }
